package idgen_test

import (
	"regexp"
	"sync"
	"testing"

	"github.com/artpar/hyperchannels/adapters/idgen"
	"github.com/artpar/hyperchannels/ports"
)

func TestGenerators_Format(t *testing.T) {
	tests := []struct {
		name    string
		gen     ports.IDGenerator
		version string
	}{
		{"uuid", idgen.UUID{}, "4"},
		{"time ordered", idgen.TimeOrdered{}, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-` + tt.version + `[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
			seen := map[string]bool{}
			for i := 0; i < 500; i++ {
				id := tt.gen.New()
				if !re.MatchString(id) {
					t.Fatalf("id %s is not a v%s UUID", id, tt.version)
				}
				if seen[id] {
					t.Fatalf("duplicate id %s", id)
				}
				seen[id] = true
			}
		})
	}
}

func TestTimeOrdered_Sorts(t *testing.T) {
	g := idgen.TimeOrdered{}

	prev := g.New()
	for i := 0; i < 100; i++ {
		next := g.New()
		if next <= prev {
			t.Fatalf("id %s sorts before %s", next, prev)
		}
		prev = next
	}
}

func TestSequential(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"dec-", []string{"dec-1", "dec-2", "dec-3"}},
		{"", []string{"1", "2"}},
	}

	for _, tt := range tests {
		g := idgen.NewSequential(tt.prefix)
		for i, want := range tt.want {
			if got := g.New(); got != want {
				t.Errorf("id #%d = %s, want %s", i, got, want)
			}
		}
	}
}

func TestSequential_Concurrent(t *testing.T) {
	g := idgen.NewSequential("req-")

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = map[string]bool{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := g.New()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 400 {
		t.Errorf("unique ids = %d, want 400", len(seen))
	}
	if got := g.New(); got != "req-401" {
		t.Errorf("next id = %s, want req-401", got)
	}
}
