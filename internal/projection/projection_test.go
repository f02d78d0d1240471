package projection_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/projection"
)

func sample() domain.ComplianceData {
	return domain.ComplianceData{Regulations: domain.Regulations{
		Description: "plan",
		Domains: []domain.Domain{
			{Name: "Old", CreatedAt: "2023-01-01T00:00:00Z", Tasks: []domain.Task{
				{Name: "Early", CreatedAt: "2023-02-01T00:00:00Z", Subtasks: []domain.SubTask{
					{Name: "s1", CreatedAt: "2023-02-02T00:00:00Z"},
					{Name: "s2", CreatedAt: "2024-06-01T00:00:00Z"},
					{Name: "s3"},
				}},
				{Name: "Late", CreatedAt: "2024-06-01T00:00:00.000Z"},
				{Name: "Undated"},
			}},
			{Name: "New", CreatedAt: "2024-06-01T00:00:00Z", Tasks: []domain.Task{{Name: "Inside"}}},
			{Name: "Garbled", CreatedAt: "yesterday"},
		},
	}}
}

func names(data domain.ComplianceData) []string {
	var out []string
	for _, d := range data.Regulations.Domains {
		out = append(out, d.Name)
		for _, t := range d.Tasks {
			out = append(out, d.Name+"/"+t.Name)
			for _, s := range t.Subtasks {
				out = append(out, d.Name+"/"+t.Name+"/"+s.Name)
			}
		}
	}
	return out
}

func TestAtFiltersEachLevel(t *testing.T) {
	got := names(projection.At(sample(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	want := []string{"Old", "Old/Early", "Old/Early/s1", "Old/Early/s3", "Old/Undated", "Garbled"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAtIsIdempotentAndDoesNotAlias(t *testing.T) {
	data := sample()
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	once := projection.At(data, cutoff)
	twice := projection.At(once, cutoff)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("projection not idempotent")
	}
	once.Regulations.Domains[0].Tasks[0].Name = "mutated"
	if data.Regulations.Domains[0].Tasks[0].Name != "Early" {
		t.Fatalf("projection shares memory with its input")
	}
}

func TestAtIsMonotone(t *testing.T) {
	data := sample()
	cutoffs := []time.Time{
		time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	prev := map[string]bool{}
	for _, c := range cutoffs {
		cur := map[string]bool{}
		for _, n := range names(projection.At(data, c)) {
			cur[n] = true
		}
		for n := range prev {
			if !cur[n] {
				t.Fatalf("%s present before %s but missing after", n, c)
			}
		}
		prev = cur
	}
	if len(prev) != len(names(data)) {
		t.Fatalf("a cutoff after every createdAt must keep everything")
	}
}
