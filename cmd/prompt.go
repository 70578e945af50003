package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptForConfirmation asks a yes/no question on out and reads one line from in.
// An empty answer, or no answer at all, selects defaultYes.
func PromptForConfirmation(in io.Reader, out io.Writer, prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s: ", prompt, suffix)

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
