package downloads

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
)

func ih(b byte) (h common.Infohash) {
	h[0] = b
	return
}

func TestStateChanges(t *testing.T) {
	r := New()
	if !r.Add(ih(1), "one", 10) || r.Add(ih(1), "one again", 10) {
		t.Fatal("add")
	}
	r.Add(ih(2), "two", 20)
	if err := r.Pause(ih(1)); err != nil {
		t.Fatal(err)
	}
	st, _ := r.Status(ih(1))
	if st.Status != Paused {
		t.Fatalf("%+v", st)
	}
	r.SetProgress(ih(1), 1)
	r.Resume(ih(1))
	st, _ = r.Status(ih(1))
	if st.Status != Seeding {
		t.Fatalf("resumed complete download is %s", st.Status)
	}
	r.SetProgress(ih(2), 2)
	st, _ = r.Status(ih(2))
	if st.Status != Seeding || st.Progress != 1 {
		t.Fatalf("%+v", st)
	}
	if r.Pause(ih(9)) != ErrNoDownload || r.Resume(ih(9)) != ErrNoDownload || r.Remove(ih(9)) != ErrNoDownload {
		t.Fatal("unknown download changed")
	}
}

func TestBulk(t *testing.T) {
	r := New()
	for i := byte(0); i < 4; i++ {
		r.Add(ih(i), "dl", 1)
	}
	if r.PauseAll() != 4 {
		t.Fatal("pause all")
	}
	for _, st := range r.List() {
		if st.Status != Paused {
			t.Fatalf("%+v", st)
		}
	}
	if r.ResumeAll() != 4 {
		t.Fatal("resume all")
	}
	for _, st := range r.List() {
		if st.Status != Downloading {
			t.Fatalf("%+v", st)
		}
	}
	if r.RemoveAll() != 4 || len(r.List()) != 0 {
		t.Fatal("remove all")
	}
}

func TestSpeedInfo(t *testing.T) {
	r := New()
	r.Add(ih(1), "a", 1)
	r.Add(ih(2), "b", 1)
	r.Transferred(ih(1), 1000, 10)
	r.Transferred(ih(2), 3000, 30)
	r.Tick()
	speed := r.SpeedInfo()
	if speed.Down != 4000 || speed.Up != 40 {
		t.Fatalf("%+v", speed)
	}
	st, _ := r.Status(ih(2))
	if st.Download != 3000 || st.Upload != 30 {
		t.Fatalf("%+v", st)
	}
	if r.Transferred(ih(3), 1, 1) != ErrNoDownload {
		t.Fatal("transfer for unknown download")
	}
}

func TestSaveLoad(t *testing.T) {
	r := New()
	r.now = func() time.Time { return time.Unix(100, 0) }
	r.Add(ih(1), "a", 5)
	r.SetProgress(ih(1), 0.5)
	r.Pause(ih(1))
	fpath := filepath.Join(t.TempDir(), "downloads.dat")
	if err := r.Save(fpath); err != nil {
		t.Fatal(err)
	}
	r2 := New()
	if err := r2.Load(fpath); err != nil {
		t.Fatal(err)
	}
	st, err := r2.Status(ih(1))
	if err != nil {
		t.Fatal(err)
	}
	if st.Name != "a" || st.Status != Paused || st.Progress != 0.5 || st.Added != 100 {
		t.Fatalf("%+v", st)
	}
	if err := New().Load(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatal(err)
	}
}
