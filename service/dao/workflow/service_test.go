package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

const linearYAML = `
id: linear
name: Linear
nodes:
  - id: start
    uses: start
  - id: greet
    uses: code
    action:
      language: javascript
      source: "1"
  - id: end
    uses: end
edges:
  - id: e1
    source: start
    target: greet
  - id: e2
    source: greet
    target: end
`

func TestService_Decode_YAML(t *testing.T) {
	svc := New()
	wf, err := svc.Decode([]byte(linearYAML), "linear.yaml")
	assert.NoError(t, err)
	assert.Equal(t, "linear", wf.ID)
	assert.Len(t, wf.Nodes, 3)
	assert.Len(t, wf.Edges, 2)
}

func TestService_Decode_DerivesIDFromHint(t *testing.T) {
	svc := New()
	yamlText := `
nodes:
  - {id: start, uses: start}
  - {id: end, uses: end}
edges:
  - {id: e1, source: start, target: end}
`
	wf, err := svc.Decode([]byte(yamlText), "orders.yaml")
	assert.NoError(t, err)
	assert.Equal(t, "orders", wf.ID)
}

func TestService_Decode_RejectsInvalidWorkflow(t *testing.T) {
	svc := New()
	_, err := svc.Decode([]byte(`nodes: []`), "broken.yaml")
	assert.Error(t, err)
}

func TestService_SaveLoadDeleteList(t *testing.T) {
	svc := New()
	ctx := context.Background()

	wf, err := svc.Decode([]byte(linearYAML), "linear.yaml")
	assert.NoError(t, err)

	assert.NoError(t, svc.Save(ctx, wf))

	loaded, err := svc.Load(ctx, "linear")
	assert.NoError(t, err)
	assert.Equal(t, wf.ID, loaded.ID)

	list, err := svc.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, list, 1)

	assert.NoError(t, svc.Delete(ctx, "linear"))
	_, err = svc.Load(ctx, "linear")
	assert.Error(t, err)
}

func TestService_Save_RejectsNilOrInvalid(t *testing.T) {
	svc := New()
	ctx := context.Background()

	assert.Error(t, svc.Save(ctx, nil))

	wf, err := svc.Decode([]byte(linearYAML), "linear.yaml")
	assert.NoError(t, err)
	wf.ID = ""
	assert.Error(t, svc.Save(ctx, wf))
}
