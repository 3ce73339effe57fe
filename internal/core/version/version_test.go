package version

import "testing"

func TestInfo(t *testing.T) {
	bi := Info()
	if bi.Service != "cardbatch" || bi.Version == "" || bi.Commit == "" || bi.Date == "" {
		t.Fatalf("info = %+v", bi)
	}
	if UserAgent() != "cardbatch/"+bi.Version {
		t.Fatalf("ua = %s", UserAgent())
	}
}
