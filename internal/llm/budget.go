package llm

import (
	"github.com/rotisserie/eris"
	"github.com/tiktoken-go/tokenizer"
)

// DefaultMaxPromptTokens bounds the existing document sent with an edit.
const DefaultMaxPromptTokens = 100_000

// ErrPromptTooLarge is returned before any request when the document exceeds the budget.
var ErrPromptTooLarge = eris.New("document too large to edit")

type tokenBudget struct {
	codec tokenizer.Codec
	max   int
}

func newTokenBudget(max int) (*tokenBudget, error) {
	if max <= 0 {
		max = DefaultMaxPromptTokens
	}

	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, eris.Wrap(err, "loading cl100k_base tokenizer")
	}

	return &tokenBudget{codec: codec, max: max}, nil
}

func (b *tokenBudget) count(text string) (int, error) {
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		return 0, eris.Wrap(err, "counting tokens")
	}
	return len(ids), nil
}

func (b *tokenBudget) check(text string) error {
	n, err := b.count(text)
	if err != nil {
		return err
	}
	if n > b.max {
		return eris.Wrapf(ErrPromptTooLarge, "%d tokens exceeds limit of %d", n, b.max)
	}
	return nil
}
