package lowering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/x86"
)

func TestInternalError(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{
			name: "release load",
			src: `functions:
  - name: bad
    return: i32
    args: [{ptr} %p]
    blocks:
      - name: entry
        code: |
          %v = intrinsic atomic.load i32(%p, 4)
          ret i32 %v
`,
			msg: "unexpected memory ordering for atomic load",
		},
		{
			name: "acquire store",
			src: `functions:
  - name: bad
    return: void
    args: [{ptr} %p]
    blocks:
      - name: entry
        code: |
          intrinsic atomic.store void(i32 1, %p, 3)
          ret
`,
			msg: "unexpected memory ordering for atomic store",
		},
	}
	for _, tt := range tests {
		for _, c := range configs {
			t.Run(tt.name+"/"+c.name, func(t *testing.T) {
				m := loadModule(t, c.arch, tt.src)
				_, err := TranslateModule(context.Background(), x86.NewTarget(c.arch, x86.SSE2), m, c.options())
				require.Error(t, err)

				var ie *InternalError
				require.True(t, errors.As(err, &ie), "%v", err)
				assert.Equal(t, "bad", ie.Func)
				assert.Equal(t, tt.msg, ie.Msg)
				assert.Contains(t, ie.Inst, "atomic.")
			})
		}
	}
}

func TestTranslateNoBlocks(t *testing.T) {
	m := loadModule(t, x86.X8664, `functions:
  - name: good
    return: void
    blocks:
      - name: entry
        code: ret
`)
	fn := m.Functions[0]
	fn.Blocks = nil

	_, err := Translate(context.Background(), x86.NewTarget(x86.X8664, x86.SSE2), fn, DefaultOptions())
	assert.Error(t, err)
}
