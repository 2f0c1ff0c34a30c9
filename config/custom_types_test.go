/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestByteSize_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    ByteSize
		wantErr bool
	}{
		{name: "integer", data: `1024`, want: 1024},
		{name: "human-readable", data: `"4K"`, want: 4096},
		{name: "megabytes", data: `"2MB"`, want: 2 * 1024 * 1024},
		{name: "k8s power-of-two", data: `"1Mi"`, want: 1024 * 1024},
		{name: "negative", data: `-1`, wantErr: true},
		{name: "garbage", data: `"lots"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotJSON ByteSize
			err := json.Unmarshal([]byte(tt.data), &gotJSON)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, gotJSON)

			var gotText ByteSize
			require.NoError(t, gotText.UnmarshalText([]byte(tt.data)))
			require.Equal(t, tt.want, gotText)
		})
	}
}

func TestByteSize_Marshal(t *testing.T) {
	data, err := json.Marshal(ByteSize(1024 * 1024))
	require.NoError(t, err)
	require.Equal(t, `"1M"`, string(data))
	require.Equal(t, "512B", ByteSize(512).String())
}

func TestTimeDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    TimeDuration
		wantErr bool
	}{
		{name: "integer is milliseconds", data: `250`, want: TimeDuration(250 * time.Millisecond)},
		{name: "human-readable", data: `"1m30s"`, want: TimeDuration(90 * time.Second)},
		{name: "zero", data: `0`, want: 0},
		{name: "negative", data: `-5`, wantErr: true},
		{name: "garbage", data: `"soon"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotJSON TimeDuration
			err := json.Unmarshal([]byte(tt.data), &gotJSON)
			if tt.wantErr {
				require.Error(t, err)
				var gotText TimeDuration
				require.Error(t, gotText.UnmarshalText([]byte(tt.data)))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, gotJSON)

			var gotText TimeDuration
			require.NoError(t, gotText.UnmarshalText([]byte(tt.data)))
			require.Equal(t, tt.want, gotText)
		})
	}
}

func TestTimeDuration_Marshal(t *testing.T) {
	data, err := json.Marshal(TimeDuration(1500 * time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, `"1.5s"`, string(data))
	require.Equal(t, "1m0s", TimeDuration(time.Minute).String())
}
