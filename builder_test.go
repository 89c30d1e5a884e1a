package authcore

import (
	"strings"
	"testing"
)

func TestBuildRequiresWiring(t *testing.T) {
	rdb := newTestRedisClient(t)
	directory := newMemoryDirectory()

	cases := []struct {
		name    string
		builder *Builder
		want    string
	}{
		{
			"missing redis",
			New().WithConfig(engineTestConfig()).
				WithDirectory(directory).
				WithPermissions([]string{"billing:read"}).
				WithRoles(map[string][]string{"viewer": {"billing:read"}}),
			"redis",
		},
		{
			"missing directory",
			New().WithConfig(engineTestConfig()).
				WithRedis(rdb).
				WithPermissions([]string{"billing:read"}).
				WithRoles(map[string][]string{"viewer": {"billing:read"}}),
			"directory",
		},
		{
			"missing permissions",
			New().WithConfig(engineTestConfig()).
				WithRedis(rdb).
				WithDirectory(directory).
				WithRoles(map[string][]string{"viewer": {}}),
			"permissions",
		},
		{
			"hs256 key below minimum",
			func() *Builder {
				cfg := engineTestConfig()
				cfg.JWT.HS256Key = []byte("too-short")
				return New().WithConfig(cfg).
					WithRedis(rdb).
					WithDirectory(directory).
					WithPermissions([]string{"billing:read"}).
					WithRoles(map[string][]string{"viewer": {"billing:read"}})
			}(),
			"32 bytes",
		},
		{
			"role references unknown permission",
			New().WithConfig(engineTestConfig()).
				WithRedis(rdb).
				WithDirectory(directory).
				WithPermissions([]string{"billing:read"}).
				WithRoles(map[string][]string{"viewer": {"billing:delete"}}),
			"permission",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.builder.Build()
			if err == nil {
				t.Fatal("expected build error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestBuildIsOnceOnly(t *testing.T) {
	builder := New().WithConfig(engineTestConfig()).
		WithRedis(newTestRedisClient(t)).
		WithDirectory(newMemoryDirectory()).
		WithPermissions([]string{"billing:read"}).
		WithRoles(map[string][]string{"viewer": {"billing:read"}})

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := builder.Build(); err == nil {
		t.Fatal("second Build must fail")
	}
}
