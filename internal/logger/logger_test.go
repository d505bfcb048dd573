package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	require.NoError(t, Configure(l, &buf, "debug", "json"))

	l.WithField("vmid", 101).Debug("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.EqualValues(t, 101, line["vmid"])
}

func TestConfigureRejectsBadInput(t *testing.T) {
	l := logrus.New()
	assert.Error(t, Configure(l, &bytes.Buffer{}, "loud", "text"))
	assert.Error(t, Configure(l, &bytes.Buffer{}, "info", "xml"))
}

func TestContextLogger(t *testing.T) {
	entry := logrus.NewEntry(logrus.New()).WithField("request_id", 7)
	ctx := WithLogger(context.Background(), entry)

	assert.Equal(t, entry, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
