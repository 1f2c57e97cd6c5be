package command

import (
	"strings"
	"unicode"
)

// Recognizer maps message text to commands for one bot identity.
type Recognizer struct {
	// Username is the bot's username without the leading "@".
	Username string
}

// NewRecognizer creates a recognizer for the given bot username.
func NewRecognizer(username string) *Recognizer {
	return &Recognizer{Username: strings.TrimPrefix(username, "@")}
}

// Recognize classifies text sent in a chat. private is true for one-to-one
// chats with the bot.
func (r *Recognizer) Recognize(text string, private bool) Result {
	name, rest, addressed, ok := r.splitName(text)
	if !ok {
		return Result{Outcome: NotRecognized}
	}

	sp, ok := lookup(name)
	if !ok {
		return Result{Outcome: NotRecognized}
	}
	if sp.specific && !private && !addressed {
		return Result{Outcome: NotRecognized}
	}

	cmd := Command{
		Kind:    sp.kind,
		Name:    sp.name,
		Options: map[string]string{},
		Private: private,
	}

	args, err := parseFlags(sp, rest, &cmd)
	if err != nil {
		return Result{Outcome: Invalid, Command: cmd, Err: err}
	}
	cmd.Args = strings.TrimSpace(args)
	return Result{Outcome: Recognized, Command: cmd}
}

// splitName extracts "/name" and an optional "@username" mention.
// ok is false when the text is not a command for this bot.
func (r *Recognizer) splitName(text string) (name, rest string, addressed, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false, false
	}

	i := 1
	for i < len(text) && isNameByte(text[i]) {
		i++
	}
	if i == 1 {
		return "", "", false, false
	}
	name, rest = text[:i], text[i:]

	if strings.HasPrefix(rest, "@") {
		j := 1
		for j < len(rest) && !isSpaceByte(rest[j]) {
			j++
		}
		mention := rest[1:j]
		if r.Username == "" || !strings.EqualFold(mention, r.Username) {
			return "", "", false, false
		}
		addressed = true
		rest = rest[j:]
	}
	if rest != "" && !isSpaceByte(rest[0]) {
		return "", "", false, false
	}
	return name, rest, addressed, true
}

// parseFlags consumes leading "--flag" tokens from s and returns the rest.
func parseFlags(sp spec, s string, cmd *Command) (string, *RecognitionError) {
	rest := s
	for {
		// Tokens are whitespace separated, so rest is empty or starts with a space.
		trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
		if !strings.HasPrefix(trimmed, "--") {
			return rest, nil
		}
		end := strings.IndexFunc(trimmed, unicode.IsSpace)
		if end < 0 {
			end = len(trimmed)
		}
		token := trimmed[:end]
		flag := token[2:]
		if !isFlagName(flag) {
			return "", newRecognitionError(sp, token)
		}

		if flag == "help" {
			cmd.Help = true
		} else {
			fs, ok := findFlag(sp, flag)
			if !ok {
				return "", newRecognitionError(sp, token)
			}
			cmd.Options[fs.group] = fs.value
		}
		rest = trimmed[end:]
	}
}

func findFlag(sp spec, name string) (flagSpec, bool) {
	for _, f := range sp.flags {
		if f.name == name {
			return f, true
		}
	}
	return flagSpec{}, false
}

func isFlagName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
