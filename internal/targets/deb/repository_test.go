package deb

import "testing"

const aptPolicyOutput = `zlib1g:
  Installed: 1:1.2.11.dfsg-2ubuntu9.2
  Candidate: 1:1.2.11.dfsg-2ubuntu9.2
  Version table:
 *** 1:1.2.11.dfsg-2ubuntu9.2 500
        500 http://archive.ubuntu.com/ubuntu jammy-updates/main amd64 Packages
        100 /var/lib/dpkg/status
     1:1.2.11.dfsg-2ubuntu9 500
        500 http://archive.ubuntu.com/ubuntu jammy/main amd64 Packages`

func TestParseAptPolicy(t *testing.T) {
	policies, err := parseAptPolicy(aptPolicyOutput)
	if err != nil {
		t.Fatal(err)
	}
	if len(policies) != 1 {
		t.Fatalf("got %d policies, want 1", len(policies))
	}
	p := policies[0]
	if p.name != "zlib1g" {
		t.Errorf("name = %q, want zlib1g", p.name)
	}
	want := []string{
		"1:1.2.11.dfsg-2ubuntu9.2",
		"1:1.2.11.dfsg-2ubuntu9",
	}
	if len(p.versions) != len(want) {
		t.Fatalf("versions = %v, want %v", p.versions, want)
	}
	for i, v := range want {
		if p.versions[i] != v {
			t.Errorf("versions[%d] = %q, want %q", i, p.versions[i], v)
		}
	}
}

func TestParseAptPolicyMultiplePackages(t *testing.T) {
	output := `libicu70:
  Installed: (none)
  Candidate: 70.1-2
  Version table:
     70.1-2 500
        500 http://archive.ubuntu.com/ubuntu jammy/main amd64 Packages
libicu66:
  Installed: (none)
  Candidate: 66.1-2ubuntu2.1
  Version table:
     66.1-2ubuntu2.1 500
        500 http://archive.ubuntu.com/ubuntu focal-updates/main amd64 Packages`

	policies, err := parseAptPolicy(output)
	if err != nil {
		t.Fatal(err)
	}
	if len(policies) != 2 {
		t.Fatalf("got %d policies, want 2", len(policies))
	}
	if policies[0].name != "libicu70" || policies[1].name != "libicu66" {
		t.Errorf("names = %q, %q", policies[0].name, policies[1].name)
	}
	if len(policies[0].versions) != 1 || policies[0].versions[0] != "70.1-2" {
		t.Errorf("libicu70 versions = %v", policies[0].versions)
	}
	if len(policies[1].versions) != 1 || policies[1].versions[0] != "66.1-2ubuntu2.1" {
		t.Errorf("libicu66 versions = %v", policies[1].versions)
	}
}

func TestParseAptPolicyEmpty(t *testing.T) {
	policies, err := parseAptPolicy("")
	if err != nil {
		t.Fatal(err)
	}
	if policies != nil {
		t.Fatalf("got %v, want nil", policies)
	}
}

func TestParseAptPolicyGarbage(t *testing.T) {
	if _, err := parseAptPolicy("not a policy header"); err == nil {
		t.Fatal("expected a parse error")
	}
}
