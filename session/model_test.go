package session

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"sdxl-sizer/preset"
)

func newTestPanel(t *testing.T, mode Mode) *Panel {
	t.Helper()
	m := NewManager(testCatalog(t), nil)
	p, err := m.Create("panel", mode)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestSelectValidatesLabel(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	if err := p.Select("1:1 (1024x1024)"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if p.Selected() != "1:1 (1024x1024)" {
		t.Fatalf("unexpected selection %q", p.Selected())
	}
	if err := p.Select("nope"); !errors.Is(err, preset.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if p.Selected() != "1:1 (1024x1024)" {
		t.Fatal("rejected label must not change the selection")
	}
	if err := p.Select(""); err != nil || p.Selected() != "" {
		t.Fatalf("empty label should clear selection, got %q, %v", p.Selected(), err)
	}
}

func TestReadFromImagesSelectsBestMatch(t *testing.T) {
	p := newTestPanel(t, ModeImg2Img)
	// the sketch slot comes after the main image slot, which is empty
	if err := p.SetImage("img2img_sketch", preset.Dimensions{Width: 900, Height: 1600}); err != nil {
		t.Fatalf("SetImage: %v", err)
	}
	p.SetImage("inpaint_sketch", preset.Dimensions{Width: 1000, Height: 1000})

	m, err := p.ReadFromImages()
	if err != nil {
		t.Fatalf("ReadFromImages: %v", err)
	}
	if m.Label != "4:7 (768x1344)" || p.Selected() != m.Label {
		t.Fatalf("unexpected match %q, selection %q", m.Label, p.Selected())
	}

	notices := p.Notices()
	last := notices[len(notices)-1]
	if last.Level != LevelInfo || !strings.HasPrefix(last.Message, "Best resolution is 4:7 (768x1344) with abs difference ") {
		t.Fatalf("unexpected notice %+v", last)
	}
}

func TestReadFromImagesNoImage(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	p.Select("1:1 (1024x1024)")
	if _, err := p.ReadFromImages(); !errors.Is(err, preset.ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if p.Selected() != "1:1 (1024x1024)" {
		t.Fatal("failed read must keep the previous selection")
	}
	notices := p.Notices()
	if len(notices) != 1 || notices[0].Level != LevelError || notices[0].Message != "No image found/provided!" {
		t.Fatalf("unexpected notices %+v", notices)
	}
}

func TestSetImageUnknownSlot(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	if err := p.SetImage("img2maskimg", preset.Dimensions{Width: 1, Height: 1}); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
	if err := p.ClearImage("bogus"); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestClearImage(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	p.SetImage("reference", preset.Dimensions{Width: 10, Height: 10})
	if err := p.ClearImage("reference"); err != nil {
		t.Fatalf("ClearImage: %v", err)
	}
	if _, err := p.ReadFromImages(); !errors.Is(err, preset.ErrNoImage) {
		t.Fatalf("expected ErrNoImage after clear, got %v", err)
	}
}

func TestApplyWritesForm(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	p.Select("7:4 (1344x768)")
	for i := 0; i < 2; i++ {
		w, h, err := p.Apply()
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if w != 1344 || h != 768 {
			t.Fatalf("unexpected size %dx%d", w, h)
		}
	}
	st := p.Snapshot()
	if st.Width != 1344 || st.Height != 768 {
		t.Fatalf("form not updated: %dx%d", st.Width, st.Height)
	}
	notices := p.Notices()
	if notices[len(notices)-1].Message != "Set resolution to 1344x768" {
		t.Fatalf("unexpected notice %+v", notices[len(notices)-1])
	}
}

func TestApplyNoSelection(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	if _, _, err := p.Apply(); !errors.Is(err, preset.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	st := p.Snapshot()
	if st.Width != DefaultWidth || st.Height != DefaultHeight {
		t.Fatal("failed apply must leave the form untouched")
	}
	if n := p.Notices(); len(n) != 1 || n[0].Message != "No resolution selected!" {
		t.Fatalf("unexpected notices %+v", n)
	}
}

func TestRecentMRU(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	for _, l := range []string{"1:1 (1024x1024)", "7:4 (1344x768)", "1:1 (1024x1024)"} {
		p.Select(l)
		p.Apply()
	}
	recent := p.Recent()
	if len(recent) != 2 || recent[0] != "1:1 (1024x1024)" || recent[1] != "7:4 (1344x768)" {
		t.Fatalf("unexpected recent list %v", recent)
	}
}

func TestRecentCap(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	for i := 0; i < 12; i++ {
		p.pushRecent(strings.Repeat("x", i+1))
	}
	if len(p.Recent()) != maxRecent {
		t.Fatalf("expected cap of %d, got %d", maxRecent, len(p.Recent()))
	}
}

func TestSetClientConnected(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	ch := make(chan Notice, 1)
	kick, _ := p.SetClient(ch)
	if !p.Connected() {
		t.Fatal("expected Connected to be true after SetClient")
	}
	if kick == nil {
		t.Fatal("expected non-nil kick channel")
	}
	p.Notify(LevelInfo, "hello")
	if n := <-ch; n.Message != "hello" {
		t.Fatalf("unexpected live notice %+v", n)
	}
}

func TestSetClientKicksPrior(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	kick1, _ := p.SetClient(make(chan Notice, 1))
	p.SetClient(make(chan Notice, 1))

	select {
	case <-kick1:
	default:
		t.Fatal("first client's kick channel was not closed on displacement")
	}
}

func TestSetClientSeesEveryNoticeOnce(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	const total = maxNotices - 10

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			p.Notify(LevelInfo, strconv.Itoa(i))
		}
	}()

	ch := make(chan Notice, total)
	_, backlog := p.SetClient(ch)
	wg.Wait()
	p.ClearClient(ch)

	seen := make(map[string]int, total)
	for _, n := range backlog {
		seen[n.Message]++
	}
	for n := range ch {
		seen[n.Message]++
	}
	for i := 0; i < total; i++ {
		if c := seen[strconv.Itoa(i)]; c != 1 {
			t.Fatalf("notice %d delivered %d times", i, c)
		}
	}
}

func TestClearClientOwnershipGuard(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	ch1 := make(chan Notice, 1)
	p.SetClient(ch1)
	ch2 := make(chan Notice, 1)
	p.SetClient(ch2)

	p.ClearClient(ch1)
	if !p.Connected() {
		t.Fatal("ClearClient with displaced channel should not clear Connected")
	}
	p.ClearClient(ch2)
	if p.Connected() {
		t.Fatal("ClearClient with current channel should clear Connected")
	}
}

func TestNotifyDoesNotBlock(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	p.SetClient(make(chan Notice)) // nobody reads
	p.Notify(LevelInfo, "dropped live, kept in backlog")
	if len(p.Notices()) != 1 {
		t.Fatal("notice missing from backlog")
	}
}

func TestNoticeLogTruncation(t *testing.T) {
	l := &noticeLog{max: 3}
	for _, m := range []string{"a", "b", "c", "d"} {
		l.Write(Notice{Message: m})
	}
	snap := l.Snapshot()
	if len(snap) != 3 || snap[0].Message != "b" || snap[2].Message != "d" {
		t.Fatalf("unexpected backlog %+v", snap)
	}
}

func TestNoticeLogSnapshotCopy(t *testing.T) {
	l := newNoticeLog()
	l.Write(Notice{Message: "data"})
	snap := l.Snapshot()
	snap[0].Message = "X"
	if l.Snapshot()[0].Message == "X" {
		t.Fatal("Snapshot is not a copy; original data was modified")
	}
}

func TestNoticeLogEmpty(t *testing.T) {
	if snap := newNoticeLog().Snapshot(); snap != nil {
		t.Fatalf("expected nil snapshot for empty log, got %v", snap)
	}
}

func TestPanelConcurrent(t *testing.T) {
	p := newTestPanel(t, ModeTxt2Img)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.SetImage("reference", preset.Dimensions{Width: 100 + n, Height: 100})
			p.ReadFromImages()
			p.Apply()
			p.Snapshot()
		}(i)
	}
	wg.Wait()
}

func TestMessage(t *testing.T) {
	if Message(preset.ErrNoImage) != "No image found/provided!" {
		t.Fatal("unexpected no-image message")
	}
	if Message(preset.ErrNoSelection) != "No resolution selected!" {
		t.Fatal("unexpected no-selection message")
	}
	if Message(errors.New("boom")) != "boom" {
		t.Fatal("unexpected passthrough message")
	}
}
