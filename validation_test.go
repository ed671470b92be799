package veld

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createUserRequest struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
	Age   int    `validate:"gte=0,lte=150"`
}

func validationPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p := NewPipeline(newTestLogger())
	require.NoError(t, p.Register(MatchMetadata(MetadataValidated), AdviceDescriptor{
		Kind:    AdviceBefore,
		Name:    "validation",
		Handler: NewValidationInterceptor(),
	}))
	return p
}

func TestValidationPassesValidArguments(t *testing.T) {
	p := validationPipeline(t)

	req := createUserRequest{Name: "Ada", Email: "ada@example.com", Age: 36}
	result, err := p.Invoke(context.Background(), nil, "CreateUser",
		[]any{req}, map[string]any{MetadataValidated: true}, passthroughCall("created", nil))

	require.NoError(t, err)
	assert.Equal(t, "created", result)
}

func TestValidationCollectsViolations(t *testing.T) {
	p := validationPipeline(t)

	req := &createUserRequest{Email: "not-an-email", Age: 200}
	called := false
	_, err := p.Invoke(context.Background(), nil, "CreateUser",
		[]any{req}, map[string]any{MetadataValidated: true},
		func(context.Context, []any) (any, error) {
			called = true
			return nil, nil
		})

	require.Error(t, err)
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrValidationFailed)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "CreateUser", valErr.Method)
	require.Len(t, valErr.Violations, 3)

	rules := make(map[string]string)
	for _, v := range valErr.Violations {
		rules[v.Field] = v.Rule
	}
	assert.Equal(t, "required", rules["createUserRequest.Name"])
	assert.Equal(t, "email", rules["createUserRequest.Email"])
	assert.Equal(t, "lte", rules["createUserRequest.Age"])
}

func TestValidationSkipsNonStructArguments(t *testing.T) {
	p := validationPipeline(t)

	result, err := p.Invoke(context.Background(), nil, "Rename",
		[]any{"plain string", 42, nil}, map[string]any{MetadataValidated: true},
		passthroughCall("ok", nil))

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestValidationUnmarkedCallsBypass(t *testing.T) {
	p := validationPipeline(t)

	// Without the metadata key the matcher never engages validation.
	result, err := p.Invoke(context.Background(), nil, "CreateUser",
		[]any{createUserRequest{}}, nil, passthroughCall("ok", nil))

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}
