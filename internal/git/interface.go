// Package git reads change information from a local checkout so events can
// be built without a forge.
package git

// Inspector defines the read-only git queries used to describe a change.
type Inspector interface {
	// CurrentBranch returns the name of the checked out branch, or "HEAD"
	// when detached.
	CurrentBranch() (string, error)
	// HeadSHA returns the full commit SHA of HEAD.
	HeadSHA() (string, error)
	// ExactTag returns the tag pointing at HEAD, or "" if there is none.
	ExactTag() (string, error)
	// ChangedFilesRelative returns files changed on head since it diverged
	// from base (the triple-dot diff base...head).
	ChangedFilesRelative(head, base string) ([]string, error)
}
