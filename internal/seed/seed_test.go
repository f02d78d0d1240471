package seed

import "testing"

func TestComplianceDecodes(t *testing.T) {
	data, err := Compliance()
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Regulations.Domains) != 5 {
		t.Fatalf("expected 5 domains, got %d", len(data.Regulations.Domains))
	}
	for _, d := range data.Regulations.Domains {
		if d.Name == "" || len(d.Tasks) == 0 {
			t.Fatalf("incomplete domain: %+v", d)
		}
	}
	// each call returns an independent copy
	data.Regulations.Domains[0].Name = "changed"
	if MustCompliance().Regulations.Domains[0].Name == "changed" {
		t.Fatalf("seed document shared between calls")
	}
}
