package qdrant

import (
	"context"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

func TestClientConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config *ClientConfig
		check  func(t *testing.T, cfg *ClientConfig)
	}{
		{
			name:   "empty config gets all defaults",
			config: &ClientConfig{},
			check: func(t *testing.T, cfg *ClientConfig) {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 6334, cfg.Port)
				assert.False(t, cfg.UseTLS)
				assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
				assert.Equal(t, 5*time.Second, cfg.DialTimeout)
				assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
				assert.Equal(t, 3, cfg.RetryAttempts)
				assert.Equal(t, time.Second, cfg.InitialBackoff)
			},
		},
		{
			name:   "partial config preserves set values",
			config: &ClientConfig{Host: "qdrant.example.com", Port: 6335},
			check: func(t *testing.T, cfg *ClientConfig) {
				assert.Equal(t, "qdrant.example.com", cfg.Host)
				assert.Equal(t, 6335, cfg.Port)
				assert.Equal(t, 5*time.Second, cfg.DialTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.ApplyDefaults()
			tt.check(t, tt.config)
		})
	}
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr string
	}{
		{"valid", ClientConfig{Host: "localhost", Port: 6334, MaxMessageSize: 1}, ""},
		{"missing host", ClientConfig{Port: 6334, MaxMessageSize: 1}, "host is required"},
		{"port too high", ClientConfig{Host: "h", Port: 70000, MaxMessageSize: 1}, "invalid port"},
		{"zero message size", ClientConfig{Host: "h", Port: 6334}, "invalid max message size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "service unavailable"), true},
		{"deadline exceeded", status.Error(codes.DeadlineExceeded, "timeout"), true},
		{"aborted", status.Error(codes.Aborted, "aborted"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "too many requests"), true},
		{"not found", status.Error(codes.NotFound, "not found"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad request"), false},
		{"non-grpc error", assert.AnError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientError(tt.err))
		})
	}
}

func TestExtractPointID(t *testing.T) {
	assert.Equal(t, "", extractPointID(nil))
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", extractPointID(qdrant.NewIDUUID("550e8400-e29b-41d4-a716-446655440000")))
	assert.Equal(t, "12345", extractPointID(qdrant.NewIDNum(12345)))
}

func TestConvertToQdrantPoint(t *testing.T) {
	p := convertToQdrantPoint(&Point{
		ID:     "550e8400-e29b-41d4-a716-446655440000",
		Vector: []float32{0.1, 0.2},
		Payload: map[string]interface{}{
			"document_id": "doc",
			"seq":         3,
			"expires_at":  int64(1700000000),
			"score":       0.5,
			"live":        true,
			"other":       []string{"x"},
		},
	})

	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", p.Id.GetUuid())
	assert.Equal(t, "doc", p.Payload["document_id"].GetStringValue())
	assert.Equal(t, int64(3), p.Payload["seq"].GetIntegerValue())
	assert.Equal(t, int64(1700000000), p.Payload["expires_at"].GetIntegerValue())
	assert.Equal(t, 0.5, p.Payload["score"].GetDoubleValue())
	assert.True(t, p.Payload["live"].GetBoolValue())
	assert.Equal(t, "[x]", p.Payload["other"].GetStringValue())
}

func TestExtractPayload(t *testing.T) {
	assert.Nil(t, extractPayload(nil))

	got := extractPayload(map[string]*qdrant.Value{
		"s": qdrant.NewValueString("v"),
		"i": qdrant.NewValueInt(7),
	})
	assert.Equal(t, map[string]interface{}{"s": "v", "i": int64(7)}, got)
}

func TestExtractVectorOutput(t *testing.T) {
	assert.Nil(t, extractVectorOutput(nil))

	dense := &qdrant.VectorsOutput{
		VectorsOptions: &qdrant.VectorsOutput_Vector{
			Vector: &qdrant.VectorOutput{
				Vector: &qdrant.VectorOutput_Dense{Dense: &qdrant.DenseVector{Data: []float32{1, 2, 3}}},
			},
		},
	}
	assert.Equal(t, []float32{1, 2, 3}, extractVectorOutput(dense))

	legacy := &qdrant.VectorsOutput{
		VectorsOptions: &qdrant.VectorsOutput_Vector{
			Vector: &qdrant.VectorOutput{Data: []float32{4, 5}},
		},
	}
	assert.Equal(t, []float32{4, 5}, extractVectorOutput(legacy))
}

func TestConvertToQdrantFilter(t *testing.T) {
	assert.Nil(t, convertToQdrantFilter(nil))
	assert.Nil(t, convertToQdrantFilter(&Filter{}))

	f := convertToQdrantFilter(MatchField("session_id", "S1"))
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, "session_id", field.Key)
	assert.Equal(t, "S1", field.Match.GetKeyword())
}

func TestRetryOperation_Logging(t *testing.T) {
	type logLine struct {
		level   zapcore.Level
		message string
	}
	tests := []struct {
		name          string
		operation     func() error
		retryAttempts int
		wantErr       bool
		expectedLogs  []logLine
	}{
		{
			name:          "successful operation",
			operation:     func() error { return nil },
			retryAttempts: 3,
		},
		{
			name: "transient error then success",
			operation: func() func() error {
				attempt := 0
				return func() error {
					attempt++
					if attempt == 1 {
						return status.Error(codes.Unavailable, "service unavailable")
					}
					return nil
				}
			}(),
			retryAttempts: 3,
			expectedLogs: []logLine{
				{zapcore.DebugLevel, "retrying operation after transient error"},
				{zapcore.InfoLevel, "operation recovered after retries"},
			},
		},
		{
			name:          "all retries exhausted",
			operation:     func() error { return status.Error(codes.Unavailable, "service unavailable") },
			retryAttempts: 2,
			wantErr:       true,
			expectedLogs: []logLine{
				{zapcore.DebugLevel, "retrying operation after transient error"},
				{zapcore.WarnLevel, "operation failed after all retries exhausted"},
			},
		},
		{
			name:          "non-transient error",
			operation:     func() error { return status.Error(codes.InvalidArgument, "bad request") },
			retryAttempts: 3,
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testLogger := logging.NewTestLogger()
			client := &GRPCClient{
				config: &ClientConfig{
					RetryAttempts:  tt.retryAttempts,
					InitialBackoff: time.Millisecond,
				},
				logger: testLogger.Logger,
			}

			err := client.retryOperation(context.Background(), tt.operation)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, l := range tt.expectedLogs {
				testLogger.AssertLogged(t, l.level, l.message)
			}
			if len(tt.expectedLogs) == 0 {
				testLogger.AssertNotLogged(t, zapcore.DebugLevel, "retrying operation")
			}
		})
	}
}

func TestNewGRPCClient_RequiresLogger(t *testing.T) {
	_, err := NewGRPCClient(DefaultClientConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}
