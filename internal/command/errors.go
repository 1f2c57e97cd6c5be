package command

import "fmt"

// ParseErrorText is the first line of every usage reply for malformed flags.
const ParseErrorText = "error: unable to parse the command"

// RecognitionError describes malformed flags on a recognized command name.
// It is user-facing: Usage is sent as the reply.
type RecognitionError struct {
	Command string // "/eval"
	Token   string // offending token
	Usage   string
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("%s: unrecognized flag %q", e.Command, e.Token)
}

func newRecognitionError(sp spec, token string) *RecognitionError {
	return &RecognitionError{
		Command: sp.name,
		Token:   token,
		Usage:   ParseErrorText + "\n" + flagHelp(sp),
	}
}
