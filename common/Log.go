package common

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func init() {
	Log = NewLogger(os.Stdout)
}

// NewLogger builds the JSON logger shared by the engine packages. LOG_LEVEL
// selects the level, info when unset or malformed.
func NewLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.Out = out
	l.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	l.SetLevel(levelFromEnv())
	l.AddHook(NewServiceFieldsHook())
	return l
}

func levelFromEnv() logrus.Level {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// ServiceFieldsHook stamps every entry with the identity of the running
// engine process. Fields set by the caller are left alone.
type ServiceFieldsHook struct {
	fields logrus.Fields
}

func NewServiceFieldsHook() *ServiceFieldsHook {
	return &ServiceFieldsHook{fields: logrus.Fields{
		"serviceName":     GetServiceName(),
		"serviceInstance": GetServiceInstance(),
		"pid":             os.Getpid(),
	}}
}

func (hook *ServiceFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hook *ServiceFieldsHook) Fire(e *logrus.Entry) error {
	for k, v := range hook.fields {
		if _, ok := e.Data[k]; !ok {
			e.Data[k] = v
		}
	}
	return nil
}
