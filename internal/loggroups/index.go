// Package loggroups maintains a process-wide, pre-loaded catalog of
// CloudWatch log groups and renders it for injection into the
// orchestrator's system prompt.
package loggroups

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loglens/loglens/internal/datetime"
	"github.com/loglens/loglens/internal/format"
	"github.com/loglens/loglens/internal/infra"
	"github.com/loglens/loglens/pkg/models"
)

// Lister is the slice of the CloudWatch adapter contract the index
// needs: a single paginated listing call. The concrete adapter lives
// outside this package's scope.
type Lister interface {
	ListLogGroups(ctx context.Context, prefix string, pageToken string) (groups []models.LogGroupInfo, nextPageToken string, err error)
}

// ProgressFunc receives incremental load progress: the running count of
// groups discovered so far and a human-readable status message.
type ProgressFunc func(countSoFar int, message string)

// wellKnownPrefixes categorizes log groups by their CloudWatch-assigned
// service prefix. Order matters: more specific prefixes are checked
// first where they could otherwise collide.
var wellKnownPrefixes = []string{
	"/aws/lambda/",
	"/aws/apigateway/",
	"/aws/rds/",
	"/aws/eks/",
	"/ecs/",
	"/aws/elasticbeanstalk/",
	"/aws/codebuild/",
	"/aws/batch/",
	"/aws/kinesisfirehose/",
	"/aws/vendedlogs/",
}

// fullListThreshold is the group count at or below which the system
// prompt renders the full alphabetical list instead of a categorized
// summary.
const fullListThreshold = 500

// sampleSize bounds the number of representative names drawn when
// rendering the categorized summary.
const sampleSize = 100

// topCategories bounds how many categories the summary enumerates.
const topCategories = 15

// Index is the process-wide log-group catalog. It is safe for
// concurrent use: Load/Refresh hold a write lock while swapping the
// catalog; reads take a read lock.
type Index struct {
	mu        sync.RWMutex
	lister    Lister
	groups    []models.LogGroupInfo
	lifecycle models.LogGroupLifecycle
	loadedAt  time.Time
	loadErr   error

	callbackMu sync.Mutex
	callbacks  []func()

	// loadGroup coalesces concurrent Load/Refresh calls (e.g. a user
	// hitting /refresh while the startup load is still paginating) into
	// a single in-flight paginator walk.
	loadGroup infra.Group[string, struct{}]
}

// New constructs an uninitialized Index over the given Lister.
func New(lister Lister) *Index {
	return &Index{lister: lister, lifecycle: models.LogGroupIndexUninitialized}
}

// OnUpdate registers a process-level notification fired after every
// successful Load/Refresh. Listeners should re-query the index for
// current data; callback panics/errors are the listener's own
// responsibility to avoid, but a panicking callback here is recovered
// and logged to stderr via fmt so one bad listener cannot crash the
// index's loading goroutine.
func (idx *Index) OnUpdate(fn func()) {
	idx.callbackMu.Lock()
	defer idx.callbackMu.Unlock()
	idx.callbacks = append(idx.callbacks, fn)
}

func (idx *Index) fireCallbacks() {
	idx.callbackMu.Lock()
	cbs := append([]func(){}, idx.callbacks...)
	idx.callbackMu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Printf("loggroups: update callback panicked: %v\n", r)
				}
			}()
			cb()
		}()
	}
}

// Load iterates the full paginator from the adapter with no limit,
// converting each page into LogGroupInfo. progress, if non-nil, is
// invoked once per page. On error the index transitions to the error
// state and preserves whatever list it already had. Concurrent Load
// calls for an Index that is already loading share the same paginator
// walk instead of issuing redundant ListLogGroups pages.
func (idx *Index) Load(ctx context.Context, progress ProgressFunc) error {
	_, err, _ := idx.loadGroup.Do("load", func() (struct{}, error) {
		return struct{}{}, idx.loadOnce(ctx, progress)
	})
	return err
}

func (idx *Index) loadOnce(ctx context.Context, progress ProgressFunc) error {
	idx.setLifecycle(models.LogGroupIndexLoading)

	var all []models.LogGroupInfo
	pageToken := ""
	for {
		page, next, err := idx.lister.ListLogGroups(ctx, "", pageToken)
		if err != nil {
			idx.mu.Lock()
			idx.lifecycle = models.LogGroupIndexError
			idx.loadErr = err
			idx.mu.Unlock()
			return err
		}
		all = append(all, page...)
		if progress != nil {
			progress(len(all), fmt.Sprintf("loaded %d log groups", len(all)))
		}
		if next == "" {
			break
		}
		pageToken = next

		select {
		case <-ctx.Done():
			idx.mu.Lock()
			idx.lifecycle = models.LogGroupIndexError
			idx.loadErr = ctx.Err()
			idx.mu.Unlock()
			return ctx.Err()
		default:
		}
	}

	idx.mu.Lock()
	idx.groups = all
	idx.lifecycle = models.LogGroupIndexReady
	idx.loadedAt = time.Now().UTC()
	idx.loadErr = nil
	idx.mu.Unlock()

	idx.fireCallbacks()
	return nil
}

// Refresh is an alias for Load.
func (idx *Index) Refresh(ctx context.Context, progress ProgressFunc) error {
	return idx.Load(ctx, progress)
}

func (idx *Index) setLifecycle(l models.LogGroupLifecycle) {
	idx.mu.Lock()
	idx.lifecycle = l
	idx.mu.Unlock()
}

// GetLogGroupNames returns every catalogued name, unsorted.
func (idx *Index) GetLogGroupNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	names := make([]string, len(idx.groups))
	for i, g := range idx.groups {
		names[i] = g.Name
	}
	return names
}

// FindMatchingGroups returns groups whose name contains pattern,
// case-insensitively.
func (idx *Index) FindMatchingGroups(pattern string) []models.LogGroupInfo {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	needle := strings.ToLower(pattern)
	var matches []models.LogGroupInfo
	for _, g := range idx.groups {
		if strings.Contains(strings.ToLower(g.Name), needle) {
			matches = append(matches, g)
		}
	}
	return matches
}

// GetStats summarizes the catalog's current state.
func (idx *Index) GetStats() models.LogGroupStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := models.LogGroupStats{
		TotalGroups:         len(idx.groups),
		TotalBytes:          totalStoredBytes(idx.groups),
		CategoryCounts:      categoryCounts(idx.groups),
		Lifecycle:           idx.lifecycle,
		LoadedAt:            idx.loadedAt,
		RefreshCoalesceRate: idx.loadGroup.Stats().HitRate(),
	}
	return stats
}

func totalStoredBytes(groups []models.LogGroupInfo) int64 {
	var total int64
	for _, g := range groups {
		total += g.StoredBytes
	}
	return total
}

// categorize maps a log-group name to one of the well-known AWS
// prefixes, falling back to its first 2-3 path components.
func categorize(name string) string {
	for _, prefix := range wellKnownPrefixes {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimSuffix(prefix, "/")
		}
	}
	parts := strings.Split(strings.TrimPrefix(name, "/"), "/")
	n := 3
	if len(parts) < n {
		n = len(parts)
	}
	if n == 0 {
		return "/other"
	}
	return "/" + strings.Join(parts[:n], "/")
}

func categoryCounts(groups []models.LogGroupInfo) map[string]int {
	counts := make(map[string]int)
	for _, g := range groups {
		counts[categorize(g.Name)]++
	}
	return counts
}

// RenderSystemPrompt produces the block of text injected into the
// system prompt describing the catalogued log groups, following the
// two-tier policy: a full alphabetical list at or below
// fullListThreshold groups, otherwise a categorized summary with a
// representative sample.
func (idx *Index) RenderSystemPrompt() string {
	idx.mu.RLock()
	groups := append([]models.LogGroupInfo{}, idx.groups...)
	lifecycle := idx.lifecycle
	loadedAt := idx.loadedAt
	idx.mu.RUnlock()

	if lifecycle != models.LogGroupIndexReady {
		return "## Available Log Groups\n\nThe log-group catalog has not finished loading yet."
	}

	var b strings.Builder
	if len(groups) <= fullListThreshold {
		renderFullList(&b, groups, loadedAt)
	} else {
		renderCategorizedSummary(&b, groups, loadedAt)
	}
	b.WriteString("\n\nThe sidebar already lists these log groups; use /refresh to reload it. ")
	b.WriteString("Reference the sidebar instead of re-listing group names in chat.\n")
	return b.String()
}

func renderFullList(b *strings.Builder, groups []models.LogGroupInfo, loadedAt time.Time) {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	sort.Strings(names)

	fmt.Fprintf(b, "## Available Log Groups (%d total, %s stored, refreshed %s)\n\n", len(names), format.FormatBytes(totalStoredBytes(groups)), datetime.FormatLoadedAt(loadedAt))
	for _, n := range names {
		fmt.Fprintf(b, "- %s\n", n)
	}
}

func renderCategorizedSummary(b *strings.Builder, groups []models.LogGroupInfo, loadedAt time.Time) {
	counts := categoryCounts(groups)

	type kv struct {
		name  string
		count int
	}
	ordered := make([]kv, 0, len(counts))
	for name, count := range counts {
		ordered = append(ordered, kv{name, count})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].name < ordered[j].name
	})
	if len(ordered) > topCategories {
		ordered = ordered[:topCategories]
	}

	fmt.Fprintf(b, "## Available Log Groups (%d total, %s stored, refreshed %s)\n\n", len(groups), format.FormatBytes(totalStoredBytes(groups)), datetime.FormatLoadedAt(loadedAt))
	b.WriteString("Top categories:\n\n")
	for _, c := range ordered {
		fmt.Fprintf(b, "- %s: %d groups\n", c.name, c.count)
	}

	sample := sampleGroups(groups, ordered, sampleSize)
	b.WriteString("\nRepresentative sample:\n\n")
	for _, n := range sample {
		fmt.Fprintf(b, "- %s\n", n)
	}
}

// sampleGroups draws a representative sample of names proportionally
// per category, up to max total names.
func sampleGroups(groups []models.LogGroupInfo, topCats []struct {
	name  string
	count int
}, max int) []string {
	byCategory := make(map[string][]string)
	for _, g := range groups {
		c := categorize(g.Name)
		byCategory[c] = append(byCategory[c], g.Name)
	}

	var sample []string
	if len(topCats) == 0 {
		return sample
	}
	perCategory := max / len(topCats)
	if perCategory < 1 {
		perCategory = 1
	}
	for _, c := range topCats {
		names := byCategory[c.name]
		sort.Strings(names)
		n := perCategory
		if n > len(names) {
			n = len(names)
		}
		sample = append(sample, names[:n]...)
		if len(sample) >= max {
			break
		}
	}
	if len(sample) > max {
		sample = sample[:max]
	}
	return sample
}
