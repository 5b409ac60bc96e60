package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"enigbot/internal/config"
	"enigbot/internal/docstore"
	"enigbot/internal/extract"
	"enigbot/internal/llm"
	"enigbot/internal/models"
	"enigbot/internal/responder"
	"enigbot/internal/retrieval"
	"enigbot/internal/session"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	query := flag.String("query", "", "Answer a single question and exit")
	upload := flag.String("upload", "", "Index a document before starting")
	inMemory := flag.Bool("memory", false, "Keep the vector store in memory only")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	embedder, err := retrieval.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating embedder")
	}
	store, err := retrieval.NewStore(cfg.RAG.DBPath, cfg.RAG.Collection, *inMemory, embedder, cfg.RAG.TopK)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	docIndex, err := retrieval.NewStore(cfg.RAG.DBPath, cfg.RAG.Collection+"-documents", *inMemory, embedder, cfg.RAG.TopK)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening document store")
	}
	docs := docstore.New(docIndex, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)

	generator, err := llm.NewClient(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating LLM client")
	}

	ctx := context.Background()
	var transcripts *session.TranscriptStore
	if cfg.Database.DSN != "" {
		transcripts, err = session.ConnectTranscripts(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to transcript database")
		}
		defer transcripts.Close()
		if err := transcripts.Init(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error initializing transcript table")
		}
	}

	extractor := extract.NewExtractor(cfg.Schedule.FetchTimeout)
	dispatcher := responder.NewDispatcher(store, extractor, generator, docs, cfg.Schedule)
	sess := session.New(transcripts)

	if *upload != "" {
		if err := indexUpload(ctx, docs, sess, *upload); err != nil {
			log.Fatal().Err(err).Str("file", *upload).Msg("Error indexing document")
		}
	}

	if *query != "" {
		result := dispatcher.Process(ctx, *query, sess)
		fmt.Println(result.Answer)
		printSources(result)
		return
	}

	repl(ctx, dispatcher, docs, sess)
}

func repl(ctx context.Context, dispatcher *responder.Dispatcher, docs *docstore.Store, sess *session.Session) {
	fmt.Println("Assistant du département de génie civil. Tapez /aide pour les commandes.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, line, docs, sess); quit {
				break
			}
			continue
		}
		if isFarewell(line) {
			fmt.Println(farewell(line))
			break
		}

		result := dispatcher.Process(ctx, line, sess)
		fmt.Println(result.Answer)
		printSources(result)
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading input")
	}
}

// command handles the slash commands and reports whether the REPL should
// stop.
func command(ctx context.Context, line string, docs *docstore.Store, sess *session.Session) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quitter", "/exit", "/quit":
		fmt.Println("Au revoir !")
		return true
	case "/effacer", "/clear":
		sess.Clear()
		fmt.Println("Session réinitialisée.")
	case "/ajouter", "/upload":
		if len(fields) < 2 {
			fmt.Println("Usage : /ajouter <chemin du fichier>")
			return false
		}
		if err := indexUpload(ctx, docs, sess, fields[1]); err != nil {
			fmt.Printf("Impossible d'indexer le document : %v\n", err)
		}
	case "/documents", "/docs":
		list := docs.List()
		if len(list) == 0 {
			fmt.Println("Aucun document indexé.")
			return false
		}
		for _, doc := range list {
			fmt.Printf("- %s (%d extraits, indexé le %s)\n", doc.Filename, doc.Chunks, doc.IndexedAt.Format("2006-01-02 15:04"))
		}
	case "/aide", "/help":
		fmt.Println("Commandes : /ajouter <fichier>, /documents, /effacer, /quitter")
	default:
		fmt.Printf("Commande inconnue : %s (voir /aide)\n", fields[0])
	}
	return false
}

func indexUpload(ctx context.Context, docs *docstore.Store, sess *session.Session, path string) error {
	doc, err := docs.Add(ctx, path)
	if err != nil {
		return err
	}
	sess.SetUpload(doc.Filename)
	fmt.Printf("Document %s indexé (%d extraits).\n", doc.Filename, doc.Chunks)
	return nil
}

func printSources(result models.ResponderResult) {
	if len(result.Sources) == 0 {
		return
	}
	fmt.Println("\nSources :")
	for _, source := range result.Sources {
		fmt.Println("  - " + source)
	}
}

var farewells = []string{"au revoir", "goodbye", "bye", "à bientôt", "مع السلامة", "bonne nuit", "good night"}

func isFarewell(line string) bool {
	lower := strings.ToLower(line)
	for _, f := range farewells {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

func farewell(line string) string {
	switch lang := detectFarewellLanguage(line); lang {
	case models.LangEnglish:
		return "Goodbye, good luck with your studies!"
	case models.LangArabic:
		return "مع السلامة، بالتوفيق في دراستك!"
	default:
		return "Au revoir, bon courage pour tes études !"
	}
}

func detectFarewellLanguage(line string) models.Language {
	lower := strings.ToLower(line)
	for _, r := range line {
		if r >= 0x0600 && r <= 0x06FF {
			return models.LangArabic
		}
	}
	if strings.Contains(lower, "bye") || strings.Contains(lower, "good night") {
		return models.LangEnglish
	}
	return models.LangFrench
}
