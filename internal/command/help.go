package command

import "strings"

// Usage returns the flag help for a command, as sent in reply to --help.
func Usage(c Command) string {
	sp, ok := lookup(c.Name)
	if !ok {
		return ""
	}
	return flagHelp(sp)
}

func flagHelp(sp spec) string {
	var b strings.Builder
	for _, f := range sp.flags {
		b.WriteString("<code>--")
		b.WriteString(f.name)
		b.WriteString("</code> - ")
		b.WriteString(f.help)
		b.WriteByte('\n')
	}
	b.WriteString("<code>--help</code> - show this information")
	return b.String()
}

// HelpText lists the available commands. Private chats also see the
// commands that are only answered when addressed to the bot.
func HelpText(private bool) string {
	var lines []string
	for _, sp := range specs {
		if sp.specific && !private {
			continue
		}
		lines = append(lines, "<code>"+sp.name+"</code> - "+sp.desc)
	}
	return strings.Join(lines, "\n")
}
