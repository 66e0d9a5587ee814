package idgen

import (
	"hash/fnv"
	"os"

	"github.com/fundwit/go-commons/types"
	"github.com/sony/sonyflake"
)

// NewWorker falls back to a hostname derived machine id when no private
// IPv4 address is available, which is common inside containers.
func NewWorker() *sonyflake.Sonyflake {
	if w := sonyflake.NewSonyflake(sonyflake.Settings{}); w != nil {
		return w
	}
	return sonyflake.NewSonyflake(sonyflake.Settings{MachineID: hostnameMachineID})
}

func NextID(idWorker *sonyflake.Sonyflake) types.ID {
	id, err := idWorker.NextID()
	if err != nil {
		panic(err)
	}
	return types.ID(id)
}

func hostnameMachineID() (uint16, error) {
	host, err := os.Hostname()
	if err != nil {
		return 0, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return uint16(h.Sum32()), nil
}
