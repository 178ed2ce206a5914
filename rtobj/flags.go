package rtobj

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

type IFF uint32

const (
	IFF_UP IFF = 1 << iota
	IFF_BROADCAST
	IFF_DEBUG
	IFF_LOOPBACK
	IFF_POINTOPOINT
	IFF_NOTRAILERS
	IFF_RUNNING
	IFF_NOARP
	IFF_PROMISC
	IFF_ALLMULTI
	IFF_MASTER
	IFF_SLAVE
	IFF_MULTICAST
	IFF_PORTSEL
	IFF_AUTOMEDIA
	IFF_DYNAMIC
	IFF_LOWER_UP
	IFF_DORMANT
	IFF_ECHO
)

var names = []string{
	"UP",
	"BROADCAST",
	"DEBUG",
	"LOOPBACK",
	"POINTOPOINT",
	"NOTRAILERS",
	"RUNNING",
	"NOARP",
	"PROMISC",
	"ALLMULTI",
	"MASTER",
	"SLAVE",
	"MULTICAST",
	"PORTSEL",
	"AUTOMEDIA",
	"DYNAMIC",
	"LOWER_UP",
	"DORMANT",
	"ECHO",
}

func (self IFF) String() string {
	var ret []string
	for i := 0; i < 32; i++ {
		if self&(1<<i) == 0 {
			continue
		}
		if i < len(names) {
			ret = append(ret, names[i])
		} else {
			ret = append(ret, fmt.Sprintf("%#x", 1<<i))
		}
	}
	return strings.Join(ret, ",")
}

// OperState is RFC 2863 operational status, IF_OPER_*.
type OperState uint8

func (self OperState) String() string {
	switch self {
	case 0:
		return "UNKNOWN"
	case 1:
		return "NOTPRESENT"
	case 2:
		return "DOWN"
	case 3:
		return "LOWERLAYERDOWN"
	case 4:
		return "TESTING"
	case 5:
		return "DORMANT"
	case 6:
		return "UP"
	}
	return fmt.Sprintf("OPER(%d)", uint8(self))
}

// NUD is the neighbor cache entry state.
type NUD uint16

var nudNames = []struct {
	flag NUD
	name string
}{
	{unix.NUD_INCOMPLETE, "INCOMPLETE"},
	{unix.NUD_REACHABLE, "REACHABLE"},
	{unix.NUD_STALE, "STALE"},
	{unix.NUD_DELAY, "DELAY"},
	{unix.NUD_PROBE, "PROBE"},
	{unix.NUD_FAILED, "FAILED"},
	{unix.NUD_NOARP, "NOARP"},
	{unix.NUD_PERMANENT, "PERMANENT"},
}

func (self NUD) String() string {
	if self == unix.NUD_NONE {
		return "NONE"
	}
	var ret []string
	for _, n := range nudNames {
		if self&n.flag != 0 {
			ret = append(ret, n.name)
		}
	}
	return strings.Join(ret, ",")
}

// TableName renders well known routing table ids the way iproute2 does.
func TableName(table uint32) string {
	switch table {
	case unix.RT_TABLE_LOCAL:
		return "local"
	case unix.RT_TABLE_MAIN:
		return "main"
	case unix.RT_TABLE_DEFAULT:
		return "default"
	}
	return fmt.Sprint(table)
}
