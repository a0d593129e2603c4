// Package thread maps mail subjects to tracker issue ids using the
// "[:<id>]" subject tag.
package thread

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNotFound means the subject carries no thread tag, so the
	// message starts a new thread.
	ErrNotFound = errors.New("no thread tag in subject")

	// ErrInvalidThreadID means the subject carries a tag whose id cannot
	// be represented.
	ErrInvalidThreadID = errors.New("invalid thread id")
)

// tagPattern matches the thread tag anywhere in a subject.
var tagPattern = regexp.MustCompile(`\[:(\d+)\]`)

// ExtractThreadID returns the issue id from the first thread tag in
// subject.
func ExtractThreadID(subject string) (int64, error) {
	match := tagPattern.FindStringSubmatch(subject)
	if match == nil {
		return 0, ErrNotFound
	}

	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidThreadID, match[1], err)
	}
	return id, nil
}

// HasTag reports whether subject contains a thread tag.
func HasTag(subject string) bool {
	return tagPattern.MatchString(subject)
}

// Tag renders the subject tag for id.
func Tag(id int64) string {
	return fmt.Sprintf("[:%d]", id)
}

// BuildReplySubject returns "Re: [:<id>] <title>". A title that already
// carries a tag for the same thread is not tagged twice.
func BuildReplySubject(title string, id int64) string {
	title = strings.TrimSpace(title)
	if existing, err := ExtractThreadID(title); err == nil && existing == id {
		title = strings.TrimSpace(strings.Replace(title, Tag(id), "", 1))
	}
	for {
		lower := strings.ToLower(title)
		if !strings.HasPrefix(lower, "re:") {
			break
		}
		title = strings.TrimSpace(title[len("re:"):])
	}
	return fmt.Sprintf("Re: %s %s", Tag(id), title)
}
