package learner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"metaflow/pkg/logx"
	"metaflow/pkg/workflow"
)

const (
	insightsFilename = "insights.json"
	indexDirname     = "insights.bleve"
)

// Options configures a Learner.
type Options struct {
	// Dir is where insights are stored.
	Dir string
	// EnableIndex turns on the full-text search index. The index is derived
	// from the insights file and can always be rebuilt from it.
	EnableIndex bool
}

// Learner refreshes and serves pattern insights mined from run history. The
// JSON insights file is the authoritative artifact; the Bleve index only
// accelerates search.
type Learner struct {
	mu       sync.RWMutex
	dir      string
	index    bleve.Index
	insights []PatternInsight
	logger   *logx.Logger
}

// New opens a learner in opts.Dir, loading any previously saved insights.
func New(opts Options) (*Learner, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create learner directory: %w", err)
	}

	l := &Learner{
		dir:    opts.Dir,
		logger: logx.NewLogger("learner"),
	}
	if err := l.load(); err != nil {
		return nil, err
	}

	if opts.EnableIndex {
		index, err := openIndex(filepath.Join(opts.Dir, indexDirname))
		if err != nil {
			return nil, err
		}
		l.index = index
		if err := l.reindex(); err != nil {
			_ = index.Close()
			return nil, err
		}
	}
	return l, nil
}

func openIndex(path string) (bleve.Index, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		index, err := bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create insight index: %w", err)
		}
		return index, nil
	}
	index, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open insight index: %w", err)
	}
	return index, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	keywordField := bleve.NewKeywordFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("summary", textField)
	doc.AddFieldMappingsAt("template_id", keywordField)
	doc.AddFieldMappingsAt("kind", keywordField)
	doc.AddFieldMappingsAt("role", keywordField)
	doc.AddFieldMappingsAt("tier", keywordField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Refresh re-analyzes the full run history, saves the insights file, and
// rebuilds the search index.
func (l *Learner) Refresh(history []workflow.MetaWorkflowResult) ([]PatternInsight, error) {
	insights := Analyze(history)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.insights = insights
	if err := l.save(); err != nil {
		return nil, err
	}
	if err := l.reindex(); err != nil {
		return nil, err
	}
	l.logger.Info("refreshed %d insights from %d runs", len(insights), len(history))
	return insights, nil
}

// Insights returns the current insights, optionally filtered by template.
func (l *Learner) Insights(templateID string) []PatternInsight {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]PatternInsight, 0, len(l.insights))
	for _, insight := range l.insights {
		if templateID == "" || insight.TemplateID == templateID {
			out = append(out, insight)
		}
	}
	return out
}

// Search queries insight summaries. Without an index it falls back to
// returning the stored insights up to limit.
func (l *Learner) Search(queryText string, limit int) ([]PatternInsight, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	if l.index == nil {
		n := limit
		if n > len(l.insights) {
			n = len(l.insights)
		}
		out := make([]PatternInsight, n)
		copy(out, l.insights[:n])
		return out, nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(queryText))
	req.Size = limit
	result, err := l.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("insight search: %w", err)
	}

	byID := make(map[string]PatternInsight, len(l.insights))
	for _, insight := range l.insights {
		byID[insight.ID] = insight
	}
	var out []PatternInsight
	for _, hit := range result.Hits {
		if insight, ok := byID[hit.ID]; ok {
			out = append(out, insight)
		}
	}
	return out, nil
}

// Close releases the search index, if any.
func (l *Learner) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.index == nil {
		return nil
	}
	err := l.index.Close()
	l.index = nil
	if err != nil {
		return fmt.Errorf("close insight index: %w", err)
	}
	return nil
}

func (l *Learner) insightsPath() string {
	return filepath.Join(l.dir, insightsFilename)
}

func (l *Learner) load() error {
	data, err := os.ReadFile(l.insightsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read insights: %w", err)
	}
	if err := json.Unmarshal(data, &l.insights); err != nil {
		return fmt.Errorf("parse insights: %w", err)
	}
	return nil
}

func (l *Learner) save() error {
	data, err := json.MarshalIndent(l.insights, "", "  ")
	if err != nil {
		return fmt.Errorf("encode insights: %w", err)
	}
	tmp := l.insightsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write insights: %w", err)
	}
	if err := os.Rename(tmp, l.insightsPath()); err != nil {
		return fmt.Errorf("replace insights: %w", err)
	}
	return nil
}

// reindex rebuilds the Bleve index to match l.insights. Caller holds the
// lock.
func (l *Learner) reindex() error {
	if l.index == nil {
		return nil
	}

	// Remove stale documents before indexing the current set.
	current := make(map[string]bool, len(l.insights))
	for _, insight := range l.insights {
		current[insight.ID] = true
	}
	existing, err := indexedIDs(l.index)
	if err != nil {
		return err
	}
	batch := l.index.NewBatch()
	for _, id := range existing {
		if !current[id] {
			batch.Delete(id)
		}
	}
	for _, insight := range l.insights {
		if err := batch.Index(insight.ID, insightDocument(insight)); err != nil {
			return fmt.Errorf("index insight %s: %w", insight.ID, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("apply insight batch: %w", err)
	}
	return nil
}

func indexedIDs(index bleve.Index) ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = 100000
	result, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list indexed insights: %w", err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// insightDocument is the indexed projection of an insight.
func insightDocument(insight PatternInsight) map[string]any {
	return map[string]any{
		"summary":     insight.Summary,
		"template_id": insight.TemplateID,
		"kind":        string(insight.Kind),
		"role":        insight.Role,
		"tier":        insight.Tier,
	}
}
