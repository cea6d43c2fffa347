package link

import "github.com/BrandonDHaskell/Portunus/relay/internal/authtable"

// Command codes, first byte of every inbound frame.
const (
	CmdModeAuto    byte = 0xA0
	CmdModeEnable  byte = 0xA1
	CmdModeDisable byte = 0xA2
	CmdDumpLog     byte = 0xA3
	CmdTableUpdate byte = 0xA4
	CmdMemoryCheck byte = 0xA5
	CmdMemoryClear byte = 0xA6
)

// ReplyOK leads every reply frame.
const ReplyOK byte = 0xAF

// Per-entry table update statuses.
const (
	StatusFull      byte = 0xDF
	StatusNewUser   byte = 0xD3
	StatusUnchanged byte = 0xD1
	StatusUpdated   byte = 0xD2
)

// Frame sizes.
const (
	MaxFrameSize    = 32
	TableFrameSize  = 7
	TableReplySize  = 3
	DumpFrameSize   = 12
	DumpEndSize     = 3
	MemoryReplySize = 8
)

func StatusCode(r authtable.UpdateResult) byte {
	switch r {
	case authtable.Full:
		return StatusFull
	case authtable.NewUser:
		return StatusNewUser
	case authtable.Updated:
		return StatusUpdated
	default:
		return StatusUnchanged
	}
}

// CommandName is used for logs and metric labels.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdModeAuto:
		return "mode_auto"
	case CmdModeEnable:
		return "mode_enable"
	case CmdModeDisable:
		return "mode_disable"
	case CmdDumpLog:
		return "dump_log"
	case CmdTableUpdate:
		return "table_update"
	case CmdMemoryCheck:
		return "memory_check"
	case CmdMemoryClear:
		return "memory_clear"
	default:
		return "unknown"
	}
}
