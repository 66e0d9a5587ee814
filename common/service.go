package common

import "os"

const defaultServiceName = "guildkeep"

func GetServiceName() string {
	if name := os.Getenv("SERVICE_NAME"); name != "" {
		return name
	}
	return defaultServiceName
}

func GetServiceInstance() string {
	if instance := os.Getenv("HOSTNAME"); instance != "" {
		return instance
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
