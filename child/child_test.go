package child_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icgood/ratchet-sub000"
	"github.com/icgood/ratchet-sub000/child"
)

func TestCommunicateEchoesStdin(t *testing.T) {
	var out []byte
	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		proc, perr := child.Exec([]string{"/bin/cat"}, os.Environ())
		if perr != nil {
			return nil, perr
		}
		stdout, _, cerr := proc.Communicate(ctx, []byte("hello\nworld\n\n"))
		if cerr != nil {
			return nil, cerr
		}
		out = stdout
		_, _ = proc.Wait(ctx, 0)
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RunUntilDone())
	assert.Equal(t, "hello\nworld\n\n", string(out))
}
