package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuiltins(t *testing.T) {
	reg, err := NewRegistry("")
	require.NoError(t, err)

	metas := reg.ListTemplates()
	require.NotEmpty(t, metas)

	ids := make(map[string]Source)
	for _, m := range metas {
		ids[m.ID] = m.Source
	}
	assert.Equal(t, SourceBuiltin, ids["ci_pipeline"])
	assert.Equal(t, SourceBuiltin, ids["research_report"])
	assert.Equal(t, SourceBuiltin, ids["incident_triage"])

	tmpl, err := reg.LoadTemplate("ci_pipeline")
	require.NoError(t, err)
	assert.Equal(t, "ci_pipeline", tmpl.ID)
	assert.NotEmpty(t, tmpl.Questions)
	assert.NotEmpty(t, tmpl.Rules)
	assert.Empty(t, reg.LoadErrors())
}

func TestRegistryNotFound(t *testing.T) {
	reg, err := NewRegistry("")
	require.NoError(t, err)

	_, err = reg.LoadTemplate("does_not_exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRegistryUserTemplates(t *testing.T) {
	dir := t.TempDir()

	userJSON := `{
		"template_id": "doc_writer",
		"name": "Doc Writer",
		"form_schema": [
			{"id": "audience", "prompt": "Audience?", "type": "choice", "options": ["dev", "ops"], "default": "dev"}
		],
		"agent_composition_rules": [
			{"role": "writer", "strategy": "cheap_only", "system_prompt": "Write docs.", "config_keys": ["audience"]}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc_writer.json"), []byte(userJSON), 0644))

	userYAML := `template_id: migration_plan
name: Migration Plan
form_schema:
  - id: downtime_ok
    prompt: Is downtime acceptable?
    type: bool
    default: false
agent_composition_rules:
  - role: planner
    strategy: progressive
    system_prompt: Plan the migration.
    required: true
  - role: downtime_reviewer
    when:
      question: downtime_ok
      equals: false
    strategy: capable_first
    system_prompt: Review the plan for zero-downtime guarantees.
    depends_on: planner
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "migration_plan.yaml"), []byte(userYAML), 0644))

	reg, err := NewRegistry(dir)
	require.NoError(t, err)
	assert.Empty(t, reg.LoadErrors())

	tmpl, err := reg.LoadTemplate("doc_writer")
	require.NoError(t, err)
	assert.Equal(t, "Doc Writer", tmpl.Name)

	tmpl, err = reg.LoadTemplate("migration_plan")
	require.NoError(t, err)
	require.Len(t, tmpl.Rules, 2)
	cond := tmpl.Rules[1].When
	require.NotNil(t, cond)
	assert.Equal(t, CondEquals, cond.Kind)
	assert.Equal(t, "false", cond.Equals)
}

func TestRegistryBuiltinWinsCollision(t *testing.T) {
	dir := t.TempDir()
	shadow := `{
		"template_id": "ci_pipeline",
		"name": "Shadowed",
		"form_schema": [],
		"agent_composition_rules": [
			{"role": "impostor", "strategy": "cheap_only", "system_prompt": "x"}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shadow.json"), []byte(shadow), 0644))

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	tmpl, err := reg.LoadTemplate("ci_pipeline")
	require.NoError(t, err)
	assert.NotEqual(t, "Shadowed", tmpl.Name)

	require.Len(t, reg.LoadErrors(), 1)
	assert.Contains(t, reg.LoadErrors()[0].Error(), "collides")
}

func TestRegistryMalformedFileDoesNotPoison(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))

	good := `{
		"template_id": "survivor",
		"name": "Survivor",
		"form_schema": [],
		"agent_composition_rules": [
			{"role": "worker", "strategy": "cheap_only", "system_prompt": "x"}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.json"), []byte(good), 0644))

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	_, err = reg.LoadTemplate("survivor")
	assert.NoError(t, err)

	require.Len(t, reg.LoadErrors(), 1)
	var verr *ValidationError
	require.ErrorAs(t, reg.LoadErrors()[0], &verr)
	assert.Equal(t, "broken.json", verr.File)
}

func TestRegistryMissingUserDir(t *testing.T) {
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, reg.LoadErrors())
}
