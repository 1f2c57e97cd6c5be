// Package command recognizes bot commands in message text.
//
// Recognition is a pure function of the text, the chat type, and the bot's
// own username. It never performs I/O, so re-recognizing an edited message
// is safe to do as often as needed.
//
// Grammar:
//
//	/name[@botname] [--flag ...] [arguments]
//
// Commands addressed to another bot are not recognized. Flags are
// "--" followed by letters and digits, separated by whitespace, and end at
// the first token that does not start with "--".
package command

// Kind selects the collaborator that answers a command.
type Kind string

const (
	KindEval    Kind = "eval"
	KindCrate   Kind = "crate"
	KindDoc     Kind = "doc"
	KindVersion Kind = "version"
	KindAbout   Kind = "about"
	KindHelp    Kind = "help"
)

// Command is a recognized command ready for a responder.
type Command struct {
	Kind Kind

	// Name is the command as typed, without the bot mention ("/rustc_version").
	Name string

	// Options holds resolved flag values keyed by option group, for example
	// {"channel": "nightly", "bare": "true"}. Later flags in the same group
	// override earlier ones.
	Options map[string]string

	// Args is the text after the command name and flags, whitespace-trimmed.
	Args string

	// Help is set when --help was given; the reply is the command's usage.
	Help bool

	// Private is set for one-to-one chats with the bot.
	Private bool
}

// Option returns the value of an option group, or def when unset.
func (c Command) Option(group, def string) string {
	if v, ok := c.Options[group]; ok {
		return v
	}
	return def
}

// Enabled reports whether a boolean option was set.
func (c Command) Enabled(group string) bool {
	return c.Options[group] == "true"
}

// Outcome is the result class of recognition.
type Outcome int

const (
	// NotRecognized means the text is not a command for this bot.
	NotRecognized Outcome = iota
	// Recognized means the text is a well-formed command.
	Recognized
	// Invalid means the text names a command but its flags are malformed.
	// The user gets usage text instead of silence.
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Recognized:
		return "recognized"
	case Invalid:
		return "invalid"
	default:
		return "not_recognized"
	}
}

// Result is the outcome of recognizing one message text.
type Result struct {
	Outcome Outcome
	Command Command

	// Err is set for Invalid results.
	Err *RecognitionError
}

// flagSpec declares one accepted flag.
type flagSpec struct {
	name  string // without leading "--"
	help  string
	group string // option group the flag sets
	value string
}

// spec describes one command name.
type spec struct {
	name     string
	kind     Kind
	desc     string
	specific bool // only in private chats or when addressed to the bot
	flags    []flagSpec
}

var channelFlags = []flagSpec{
	{name: "stable", help: "use stable channel", group: "channel", value: "stable"},
	{name: "beta", help: "use beta channel", group: "channel", value: "beta"},
	{name: "nightly", help: "use nightly channel", group: "channel", value: "nightly"},
}

var evalFlags = append(append([]flagSpec{}, channelFlags...),
	flagSpec{name: "2015", help: "use 2015 edition", group: "edition", value: "2015"},
	flagSpec{name: "2018", help: "use 2018 edition", group: "edition", value: "2018"},
	flagSpec{name: "2021", help: "use 2021 edition", group: "edition", value: "2021"},
	flagSpec{name: "2024", help: "use 2024 edition", group: "edition", value: "2024"},
	flagSpec{name: "debug", help: "do debug build", group: "mode", value: "debug"},
	flagSpec{name: "release", help: "do release build", group: "mode", value: "release"},
	flagSpec{name: "bare", help: "don't add any wrapping code", group: "bare", value: "true"},
	flagSpec{name: "raw", help: "don't normalize quotes in the code", group: "raw", value: "true"},
	flagSpec{name: "version", help: "show version instead of running code", group: "version", value: "true"},
)

// specs lists every command in help order.
var specs = []spec{
	{name: "/crate", kind: KindCrate, desc: "query crate information", flags: []flagSpec{
		{name: "keyword", help: "query by keyword", group: "mode", value: "keyword"},
		{name: "query", help: "general query", group: "mode", value: "query"},
	}},
	{name: "/doc", kind: KindDoc, desc: "query document of Rust's standard library"},
	{name: "/eval", kind: KindEval, desc: "evaluate a piece of Rust code", flags: evalFlags},
	{name: "/rustc_version", kind: KindVersion, desc: "display rustc version being used", flags: channelFlags},
	{name: "/version", kind: KindVersion, desc: "display rustc version being used", specific: true, flags: channelFlags},
	{name: "/about", kind: KindAbout, desc: "display information about this bot", specific: true},
	{name: "/help", kind: KindHelp, desc: "show this information", specific: true},
}

func lookup(name string) (spec, bool) {
	for _, s := range specs {
		if s.name == name {
			return s, true
		}
	}
	return spec{}, false
}
