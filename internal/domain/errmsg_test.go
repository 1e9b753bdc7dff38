package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepestMessage_StripsSentinelPrefix(t *testing.T) {
	err := fmt.Errorf("%w: ORA-00942: table or view does not exist", ErrExecution)
	assert.Equal(t, "ORA-00942: table or view does not exist", DeepestMessage(err))
}

func TestDeepestMessage_WalksOuterWrappers(t *testing.T) {
	inner := fmt.Errorf("%w: ORA-00942: table or view does not exist", ErrExecution)
	outer := fmt.Errorf("run collector: %w", inner)
	assert.Equal(t, "ORA-00942: table or view does not exist", DeepestMessage(outer))
}

func TestDeepestMessage_PlainError(t *testing.T) {
	assert.Equal(t, "boom", DeepestMessage(errors.New("boom")))
}

func TestDeepestMessage_Nil(t *testing.T) {
	assert.Equal(t, "", DeepestMessage(nil))
}

func TestDeepestMessage_BlankLeafKeepsFullText(t *testing.T) {
	err := fmt.Errorf("%w:  ", ErrExecution)
	assert.Equal(t, err.Error(), DeepestMessage(err))
}
