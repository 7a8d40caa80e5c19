package buildconf

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

// benchConfig builds a config with n preprocess options on top of the site keys.
func benchConfig(b *testing.B, n int) *siteConfig {
	b.Helper()
	data := map[string]any{
		"target":           "body",
		"paths.base":       "/maze",
		"adapter.pages":    "build",
		"adapter.fallback": "200.html",
		"token":            "s3cr3t",
	}
	for i := 0; i < n; i++ {
		data[fmt.Sprintf("preprocess.plugin%d.option", i)] = i
	}

	cfg, err := NewLoader[siteConfig]().
		WithSource(&mockSource{name: "file:bench.yaml", data: data}).
		Load(context.Background())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { ReleaseProvenance(cfg) })
	return cfg
}

func BenchmarkCreateSnapshot(b *testing.B) {
	for _, n := range []int{0, 50, 500} {
		b.Run(fmt.Sprintf("preprocess=%d", n), func(b *testing.B) {
			cfg := benchConfig(b, n)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := CreateSnapshot(cfg); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkCreateSnapshot_WithExclusions(b *testing.B) {
	cfg := benchConfig(b, 50)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := CreateSnapshot(cfg, WithExcludeFields("token", "preprocess")); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWriteSnapshot(b *testing.B) {
	snap, err := CreateSnapshot(benchConfig(b, 50))
	if err != nil {
		b.Fatal(err)
	}
	path := filepath.Join(b.TempDir(), "snapshot.json")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := WriteSnapshot(snap, path); err != nil {
			b.Fatal(err)
		}
	}
}
