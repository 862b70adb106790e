package report

import (
	"fmt"
	"strings"
)

const splitLineLength = 60

// SplitLine returns a full-width separator line.
func SplitLine() string {
	return strings.Repeat("-", splitLineLength)
}

// SplitLineWith returns a separator line with content centered in it.
func SplitLineWith(content string) string {
	length := splitLineLength
	if len(content) > length-4 {
		length = len(content) + 4
	}
	total := length - len(content) - 2
	left := total / 2
	right := total - left
	return strings.Repeat("-", left) + " " + content + " " + strings.Repeat("-", right)
}

// PrintSplit prints a separator, with content centered when non-empty.
func PrintSplit(content string) {
	if content == "" {
		fmt.Println(SplitLine())
		return
	}
	fmt.Println(SplitLineWith(content))
}
