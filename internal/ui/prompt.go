package ui

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/manifoldco/promptui"
)

// ErrCancelled is returned when the user aborts a prompt
var ErrCancelled = errors.New("operation cancelled by user")

// ConfirmPrompt asks a yes/no confirmation question. In is the prompt's
// input; nil means stdin.
func ConfirmPrompt(label string, in io.ReadCloser) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     in,
	}

	result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrCancelled
		}
		return false, err
	}

	return strings.EqualFold(result, "y"), nil
}

// ConfirmRemoval lists the packages about to be removed and asks once
func ConfirmRemoval(names []string, in io.ReadCloser) (bool, error) {
	PrintWarning("the following packages will be removed:")
	PrintList(names)
	return ConfirmPrompt(fmt.Sprintf("Remove %d package(s)", len(names)), in)
}

// Suggest returns up to limit candidates close to name, best first
func Suggest(name string, candidates []string, limit int) []string {
	ranks := fuzzy.RankFindNormalizedFold(name, candidates)
	sort.Sort(ranks)

	seen := make(map[string]bool)
	var out []string
	for _, r := range ranks {
		if seen[r.Target] {
			continue
		}
		seen[r.Target] = true
		out = append(out, r.Target)
		if len(out) == limit {
			return out
		}
	}

	// Fall back to reverse containment: "fooo" still suggests "foo"
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		if !seen[c] && c != "" && strings.Contains(strings.ToLower(name), strings.ToLower(c)) {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// DidYouMean formats suggestions for a not-found message
func DidYouMean(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	return "did you mean: " + strings.Join(suggestions, ", ") + "?"
}
