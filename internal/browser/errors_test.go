package browser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindClass(t *testing.T) {
	recoverable := []Kind{KindNoSuchElement, KindEarlyEnd, KindScreenshotEncode, KindMatchURL, KindCaptcha, KindTextMismatch}
	restart := []Kind{KindTimeout, KindUnexpected, KindClientLost, KindTabMissing}

	for _, k := range recoverable {
		assert.Equal(t, ClassRecoverable, k.Class(), k.String())
	}
	for _, k := range restart {
		assert.Equal(t, ClassRestart, k.Class(), k.String())
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("step buy: %w", NewError(KindMatchURL, "match url", nil))
	assert.Equal(t, KindMatchURL, KindOf(wrapped))
	assert.Equal(t, KindNoSuchElement, KindOf(fmt.Errorf("x: %w", ErrNoSuchElement)))
	assert.Equal(t, KindUnexpected, KindOf(errors.New("boom")))

	assert.True(t, IsEarlyEnd(NewError(KindEarlyEnd, "", nil)))
	assert.False(t, IsRestart(nil))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "click #buy: no such element: gone",
		NewError(KindNoSuchElement, "click #buy", errors.New("gone")).Error())
	assert.Equal(t, "timeout", NewError(KindTimeout, "", nil).Error())
}
