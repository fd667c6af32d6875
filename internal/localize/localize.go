// Package localize provides the one concrete implementation of every
// Localizer interface the gateway and its sub-pipelines declare
// (internal/gateway.Localizer, internal/pipeline/direct.Localizer,
// internal/discovery.Localizer, internal/pipeline/build.Localizer),
// English-only. Real localized string tables and bundled prompt-file
// content are external collaborators maintained outside this tree;
// cmd/omega wires this package in as the default so the binary runs
// standalone, formatting its own status/confirmation strings inline
// rather than deferring to a translation layer.
package localize

import "fmt"

// Default is the English-only Localizer every Deps struct in cmd/omega
// is wired with.
type Default struct{}

func (Default) Acknowledgement(lang string) string {
	return "Got it, still working on your last message — I'll get to this right after."
}

func (Default) Greeting(project, lang string) string {
	if project == "" {
		return "Switched back to the general assistant."
	}
	return fmt.Sprintf("Now working on %q — what do you need?", project)
}

func (Default) ConfirmBuild(brief string) string {
	return "Here's what I'm planning to build:\n\n" + brief + "\n\nReply \"yes\" to start, or \"no\" to cancel."
}

func (Default) DiscoveryCancelled() string {
	return "Okay, cancelled."
}

func (Default) BuildProgress(phase string, project string) string {
	return fmt.Sprintf("[%s] working on %s…", project, phase)
}
