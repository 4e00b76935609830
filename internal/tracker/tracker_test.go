package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTaskID_Valid(t *testing.T) {
	for _, id := range []string{
		"JC-123",
		"jc-123",
		"AB-x9",
		"ABCDE-0",
		"Work-Item42",
	} {
		require.NoError(t, ValidateTaskID(id), "id %q", id)
	}
}

func TestValidateTaskID_Invalid(t *testing.T) {
	for _, id := range []string{
		"",
		"JC-",
		"-123",
		"J-123",          // prefix too short
		"ABCDEF-1",       // prefix too long
		"JC123",          // no dash
		"JC-12 3",        // whitespace
		"JC-12\n3",       // newline
		"JC-12;rm -rf /", // shell metacharacters
		"JC-12|cat",
		"JC-12`id`",
		"JC-$(whoami)",
		"JC-../../etc",
		"1C-123", // digit in prefix
	} {
		err := ValidateTaskID(id)
		require.Error(t, err, "id %q", id)
		var ierr *InvalidTaskIDError
		require.ErrorAs(t, err, &ierr)
		require.Equal(t, id, ierr.TaskID)
	}
}

func TestShowArgs(t *testing.T) {
	require.Equal(t, []string{"show", "JC-7", "--json"}, ShowArgs("JC-7"))
}

func TestListArgs(t *testing.T) {
	require.Equal(t, []string{"list", "--status", "open", "--json"}, ListArgs(""))
	require.Equal(t,
		[]string{"list", "--status", "open", "--json", "--assignee", "alice"},
		ListArgs("alice"))
}

func TestClient_ShowRejectsBadIDBeforeExec(t *testing.T) {
	ran := false
	c := NewClient(WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		ran = true
		return nil, nil
	}))

	_, err := c.Show(context.Background(), "JC-12;reboot")
	var ierr *InvalidTaskIDError
	require.ErrorAs(t, err, &ierr)
	require.False(t, ran, "no process may run for an invalid id")
}

func TestClient_ShowPassesDiscreteArgs(t *testing.T) {
	var gotName string
	var gotArgs []string
	c := NewClient(WithBinary("bd"), WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		gotArgs = args
		return []byte(`{"id":"JC-7"}`), nil
	}))

	out, err := c.Show(context.Background(), "JC-7")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"JC-7"}`, string(out))
	require.Equal(t, "bd", gotName)
	require.Equal(t, []string{"show", "JC-7", "--json"}, gotArgs)
}

func TestClient_List(t *testing.T) {
	c := NewClient(WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		require.Equal(t, []string{"list", "--status", "open", "--json", "--assignee", "bob"}, args)
		return []byte(`[]`), nil
	}))

	out, err := c.List(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "[]", string(out))
}
