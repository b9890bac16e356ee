package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThinkFilterSplitAcrossChunks(t *testing.T) {
	f := NewThinkFilter()
	var out []byte
	out = append(out, f.Add([]byte("hi <thi"))...)
	out = append(out, f.Add([]byte("nk>secret</think> there.\n"))...)
	out = append(out, f.Flush()...)
	require.Equal(t, "hi  there.\n", string(out))
}

func TestThinkFilterWholeInputMatchesChunked(t *testing.T) {
	input := "before <think>a<think>b</think>after.\ntail"

	whole := NewThinkFilter()
	all := whole.Add([]byte(input))
	all = append(all, whole.Flush()...)

	chunked := NewThinkFilter()
	var byByte []byte
	for i := 0; i < len(input); i++ {
		byByte = append(byByte, chunked.Add([]byte{input[i]})...)
	}
	byByte = append(byByte, chunked.Flush()...)

	require.Equal(t, string(all), string(byByte))
}

func TestThinkFilterNestedOpenIsFlat(t *testing.T) {
	f := NewThinkFilter()
	out := f.Add([]byte("a<think>one<think>two</think>b"))
	out = append(out, f.Flush()...)
	require.Equal(t, "ab", string(out))
}
