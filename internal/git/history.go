package git

import (
	"fmt"
	"io"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

const DefaultHistoryLimit = 20

// History returns one summary line per commit reachable from HEAD, newest
// first, stopping after limit entries. An unborn HEAD has no history.
func (s *Store) History(limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	head, err := s.headCommit()
	if err != nil || head == nil {
		return nil, err
	}
	iter, err := s.repo.Log(&gitlib.LogOptions{From: head.Hash, Order: gitlib.LogOrderCommitterTime})
	if err != nil {
		return nil, tracker.WrapStore("read commits", err)
	}
	defer iter.Close()

	summaries := make([]string, 0, limit)
	for len(summaries) < limit {
		commit, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, tracker.WrapStore("iterate commits", err)
		}
		summaries = append(summaries, formatSummary(commit))
	}
	return summaries, nil
}

func formatSummary(c *object.Commit) string {
	firstLine := strings.SplitN(strings.TrimSpace(c.Message), "\n", 2)[0]
	if len(firstLine) > 80 {
		firstLine = firstLine[:77] + "..."
	}
	timestamp := c.Committer.When.Format("2006-01-02 15:04")
	files := ""
	if stats, err := c.Stats(); err == nil && len(stats) > 0 {
		files = fmt.Sprintf("  (%d files)", len(stats))
	}
	return fmt.Sprintf("%s  %s  %s%s", c.Hash.String()[:7], timestamp, firstLine, files)
}
