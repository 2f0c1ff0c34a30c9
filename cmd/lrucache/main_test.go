/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-lrucache/log"
	"github.com/acronis/go-lrucache/lrucache"
)

func TestParseFlags(t *testing.T) {
	flags, err := parseFlags(nil)
	require.NoError(t, err)
	require.Equal(t, appFlags{envPrefix: defaultEnvPrefix}, flags)

	flags, err = parseFlags([]string{"-c", "app.yml", "--env-prefix", "MYAPP", "--serve"})
	require.NoError(t, err)
	require.Equal(t, appFlags{configPath: "app.yml", envPrefix: "MYAPP", serve: true}, flags)

	_, err = parseFlags([]string{"--unknown"})
	require.Error(t, err)
}

func TestLoadAppConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
log:
  level: debug
cache:
  maxElements: 100
  maxAge: 2s
  cleanupInterval: 500
server:
  address: "127.0.0.1:9090"
  limits:
    maxValueSize: 4K
profServer:
  enabled: true
`), 0o600))

	cfg, err := loadAppConfig(appFlags{configPath: cfgPath, envPrefix: "LRUCACHE_TEST"})
	require.NoError(t, err)
	require.Equal(t, log.LevelDebug, cfg.Log.Level)
	require.Equal(t, 100, cfg.Cache.MaxElements)
	require.Equal(t, 2*time.Second, time.Duration(cfg.Cache.MaxAge))
	require.Equal(t, 500*time.Millisecond, time.Duration(cfg.Cache.CleanupInterval))
	require.Equal(t, "127.0.0.1:9090", cfg.Server.Address)
	require.EqualValues(t, 4096, cfg.Server.Limits.MaxValueSize)
	require.True(t, cfg.ProfServer.Enabled)

	t.Setenv("LRUCACHE_TEST_CACHE_MAXELEMENTS", "7")
	cfg, err = loadAppConfig(appFlags{envPrefix: "LRUCACHE_TEST"})
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Cache.MaxElements)
	require.Equal(t, lrucache.DefaultMaxLoadFactor, cfg.Cache.MaxLoadFactor)

	_, err = loadAppConfig(appFlags{configPath: filepath.Join(t.TempDir(), "missing.yml")})
	require.Error(t, err)
}

func TestRunDemo(t *testing.T) {
	cache, err := lrucache.New[int](lrucache.Options{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runDemo(context.Background(), cache, &out, demoTimings{
		MaxAge:     200 * time.Millisecond,
		ShortWait:  100 * time.Millisecond,
		LongWait:   400 * time.Millisecond,
		Elements:   10,
		KeepAmount: 5,
	}))

	sections := strings.Split(out.String(), "\n\n")
	require.GreaterOrEqual(t, len(sections), 5)
	require.Equal(t, "Set/Get\n1", sections[0])

	wantKept := "SetMaxElements: remain 5 items\n" +
		"0 <missing>\n1 <missing>\n2 <missing>\n3 <missing>\n4 <missing>\n5 5\n6 6\n7 7\n8 8\n9 9"
	require.Equal(t, wantKept, sections[1])
	require.Equal(t, strings.Replace(wantKept, "SetMaxElements", "SetMaxAge #1", 1), sections[2])
	require.Equal(t, strings.Replace(wantKept, "SetMaxElements", "SetMaxAge #2", 1), sections[3])
	require.Equal(t, "SetMaxAge #3: remain 0 items\n"+
		"0 <missing>\n1 <missing>\n2 <missing>\n3 <missing>\n4 <missing>\n"+
		"5 <missing>\n6 <missing>\n7 <missing>\n8 <missing>\n9 <missing>", sections[4])

	stats := cache.Stats()
	require.Equal(t, 0, stats.Size)
	require.Equal(t, uint64(6), stats.Evictions)
	require.Equal(t, uint64(5), stats.Expirations)
}

func TestRunDemo_ContextCanceled(t *testing.T) {
	cache, err := lrucache.New[int](lrucache.Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, runDemo(ctx, cache, &bytes.Buffer{}, defaultDemoTimings), context.Canceled)
}
