package protocol

// Command names a request sent across the privilege boundary.
type Command string

const (
	CmdQuitApplication     Command = "quitApplication"
	CmdQuitApplicationSoon Command = "quitApplicationSoon"
	CmdGrizzlyHarness      Command = "grizzlyHarness"
	CmdResizeTo            Command = "resizeTo"
	CmdZoom                Command = "zoom"
	CmdCacheGet            Command = "cacheGet"
	CmdCacheSet            Command = "cacheSet"
)

// Parameter names.
const (
	ParamTimeout  = "timeout"
	ParamLocation = "location"
	ParamWidth    = "width"
	ParamHeight   = "height"
	ParamFactor   = "factor"
	ParamKey      = "key"
	ParamValue    = "value"
	ParamToken    = "token"
)

var knownCommands = []Command{
	CmdQuitApplication,
	CmdQuitApplicationSoon,
	CmdGrizzlyHarness,
	CmdResizeTo,
	CmdZoom,
	CmdCacheGet,
	CmdCacheSet,
}

// KnownCommands returns every command this protocol version defines.
func KnownCommands() []Command {
	return append([]Command(nil), knownCommands...)
}

// Known reports whether c is defined by this protocol version.
func (c Command) Known() bool {
	for _, k := range knownCommands {
		if k == c {
			return true
		}
	}
	return false
}

func (c Command) String() string { return string(c) }
