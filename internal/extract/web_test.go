package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestExtractor() *Extractor {
	return NewExtractor(5 * time.Second)
}

func TestExtractPageRootOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h1>Programmes</h1>
			<p>Le programme Globalink de Mitacs offre des stages de recherche.</p>
			<script>ignore_me()</script>
		</body></html>`)
	}))
	defer srv.Close()

	got, err := newTestExtractor().ExtractPage(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("ExtractPage: %v", err)
	}
	if !strings.Contains(got, "Globalink") {
		t.Errorf("content missing paragraph text: %q", got)
	}
	if strings.Contains(got, "ignore_me") {
		t.Errorf("script content leaked into extraction: %q", got)
	}
}

func TestExtractPageFollowsKeywordLinks(t *testing.T) {
	var detailHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<p>Accueil.</p>
			<a href="/nos-programmes">Nos programmes</a>
			<a href="/contact">Contact</a>
		</body></html>`)
	})
	mux.HandleFunc("/nos-programmes", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&detailHits, 1)
		fmt.Fprint(w, `<html><body>
			<h2>Programmes</h2>
			<p>Liste des programmes: Globalink, bourses de recherche, stages internationaux pour les étudiants en génie. Les programmes couvrent plusieurs disciplines et durent douze semaines.</p>
		</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := newTestExtractor().ExtractPage(context.Background(), srv.URL, "programmes liste")
	if err != nil {
		t.Fatalf("ExtractPage: %v", err)
	}
	if atomic.LoadInt32(&detailHits) == 0 {
		t.Fatal("internal page with keyword match was never visited")
	}
	if !strings.Contains(got, "Globalink") {
		t.Errorf("expected detail-page content, got: %q", got)
	}
}

func TestExtractPageEarlyExitSkipsTraversal(t *testing.T) {
	var subHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Root content repeats the keywords enough to clear the early-exit
		// threshold on its own.
		var sb strings.Builder
		sb.WriteString("<html><body>")
		for i := 0; i < 6; i++ {
			sb.WriteString("<p>Les programmes de stages: la liste des programmes de stages est publiée ici.</p>")
		}
		sb.WriteString(`<a href="/programmes-detail">programmes</a></body></html>`)
		fmt.Fprint(w, sb.String())
	})
	mux.HandleFunc("/programmes-detail", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&subHits, 1)
		fmt.Fprint(w, "<html><body><p>detail</p></body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := newTestExtractor().ExtractPage(context.Background(), srv.URL, "programmes stages liste"); err != nil {
		t.Fatalf("ExtractPage: %v", err)
	}
	if atomic.LoadInt32(&subHits) != 0 {
		t.Error("internal pages were visited despite early exit")
	}
}

func TestExtractPageBoundedFanOut(t *testing.T) {
	var total int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		sb.WriteString("<html><body><p>index</p>")
		for i := 0; i < 20; i++ {
			fmt.Fprintf(&sb, `<a href="/stage-%d">stage %d</a>`, i, i)
		}
		sb.WriteString("</body></html>")
		fmt.Fprint(w, sb.String())
	})
	for i := 0; i < 20; i++ {
		mux.HandleFunc(fmt.Sprintf("/stage-%d", i), func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&total, 1)
			fmt.Fprint(w, "<html><body><p>rien</p></body></html>")
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := newTestExtractor().ExtractPage(context.Background(), srv.URL, "stage"); err != nil {
		t.Fatalf("ExtractPage: %v", err)
	}
	if n := atomic.LoadInt32(&total); n > maxFanOut {
		t.Errorf("visited %d internal pages, fan-out limit is %d", n, maxFanOut)
	}
}

func TestFetchRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "<html><body><p>recovered after retry</p></body></html>")
	}))
	defer srv.Close()

	got, err := newTestExtractor().ExtractPage(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("ExtractPage should recover on retry: %v", err)
	}
	if !strings.Contains(got, "recovered") {
		t.Errorf("unexpected content: %q", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 fetch attempts, got %d", calls)
	}
}

func TestMatchScore(t *testing.T) {
	content := "Les programmes de stages Mitacs sont listés sur cette page avec leurs conditions."
	if s := matchScore(content, "programmes stages"); s <= 0 {
		t.Errorf("expected positive score, got %d", s)
	}
	if s := matchScore(content, "volleyball"); s != 0 {
		t.Errorf("expected zero score for unrelated query, got %d", s)
	}
	if s := matchScore("", "programmes"); s != 0 {
		t.Errorf("empty content must score 0, got %d", s)
	}
}

func TestCleanContentDropsDuplicateParagraphs(t *testing.T) {
	para := "Ceci est un paragraphe assez long pour être considéré comme du contenu substantiel."
	in := para + "\n\n" + para + "\n\nAutre."
	out := cleanContent(in)
	if strings.Count(out, "paragraphe assez long") != 1 {
		t.Errorf("duplicate paragraph not removed:\n%s", out)
	}
}
