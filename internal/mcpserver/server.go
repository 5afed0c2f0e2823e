// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the research queue and vault to LLM clients via stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/pipeline"
	"github.com/starford/deepnote/internal/queue"
	"github.com/starford/deepnote/internal/runner"
	"github.com/starford/deepnote/internal/vault"
)

// ContractURI is the resource URI of the note format contract.
const ContractURI = "deepnote://note-format"

// maxPop bounds pop_queue so one call cannot drain a large queue.
const maxPop = 10

// Pipeline researches one topic.
type Pipeline interface {
	Run(ctx context.Context, topic string) (*pipeline.Report, error)
}

// Drainer researches queued concepts.
type Drainer interface {
	Drain(ctx context.Context, n int) ([]runner.Outcome, error)
}

// Server wraps the MCP server with the deepnote tools.
type Server struct {
	mcp      *server.MCPServer
	vault    *vault.Vault
	queue    *queue.Store
	pipeline Pipeline
	runner   Drainer
	logger   *slog.Logger
}

// New creates a new MCP server with all tools registered. p and r may be
// nil when no research backend is configured; the tools that need them
// then report an error.
func New(v *vault.Vault, q *queue.Store, p Pipeline, r Drainer, logger *slog.Logger) *Server {
	s := &Server{vault: v, queue: q, pipeline: p, runner: r, logger: logger}

	s.mcp = server.NewMCPServer(
		"deepnote",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("research_topic",
		mcp.WithDescription("Research a topic, write its note into the vault and queue the new concepts it mentions."),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Topic to research, e.g. Walt Disney World")),
	), s.researchTopic)

	s.mcp.AddTool(mcp.NewTool("list_queue",
		mcp.WithDescription("List the concepts waiting to be researched, front first."),
	), s.listQueue)

	s.mcp.AddTool(mcp.NewTool("enqueue_concept",
		mcp.WithDescription("Add a concept to the research queue. Concepts already queued or already researched are ignored."),
		mcp.WithString("concept", mcp.Required(), mcp.Description("Concept name as it should be titled")),
	), s.enqueueConcept)

	s.mcp.AddTool(mcp.NewTool("pop_queue",
		mcp.WithDescription("Research the concepts at the front of the queue."),
		mcp.WithNumber("count", mcp.Description(fmt.Sprintf("How many entries to process (1-%d, default 1)", maxPop))),
	), s.popQueue)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full Markdown of a note by title. Casing and punctuation are ignored."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("note_exists",
		mcp.WithDescription("Check whether a note exists for a topic."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
	), s.noteExists)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the research note format written by this server."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(ContractURI, "Note Format Contract",
			mcp.WithResourceDescription("Markdown format of research notes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// Listen serves MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

var errNoBackend = errors.New("research is not configured: set OPENAI_API_KEY")

func (s *Server) researchTopic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := req.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.pipeline == nil {
		return mcp.NewToolResultError(errNoBackend.Error()), nil
	}
	rep, err := s.pipeline.Run(ctx, topic)
	if err != nil {
		return mcp.NewToolResultError(apperr.Describe(err)), nil
	}
	return mcp.NewToolResultText(rep.Describe("")), nil
}

func (s *Server) listQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.queue.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("queue is empty"), nil
	}
	lines := make([]string, len(items))
	for i, c := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, c.Display)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) enqueueConcept(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("concept")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c := concept.New(name)
	added, err := s.queue.Enqueue(c)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !added {
		return mcp.NewToolResultText(fmt.Sprintf("not queued: %q is already queued or researched", c.Display)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("queued: %s", c.Display)), nil
}

func (s *Server) popQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError(errNoBackend.Error()), nil
	}
	n := req.GetInt("count", 1)
	if n < 1 || n > maxPop {
		return mcp.NewToolResultError(fmt.Sprintf("count must be between 1 and %d", maxPop)), nil
	}

	outcomes, err := s.runner.Drain(ctx, n)
	var lines []string
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			lines = append(lines, fmt.Sprintf("skipped %q: note already exists", o.Concept.Display))
		case o.Report != nil:
			lines = append(lines, o.Report.Describe(""))
		}
	}
	if errors.Is(err, apperr.ErrQueueEmpty) {
		return mcp.NewToolResultText("queue is empty"), nil
	}
	if err != nil {
		lines = append(lines, apperr.Describe(err))
		return mcp.NewToolResultError(strings.Join(lines, "\n")), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.vault.Get(concept.Normalize(title))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", title)), nil
	}
	return mcp.NewToolResultText(string(note.Content)), nil
}

func (s *Server) noteExists(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.vault.Lookup(concept.Normalize(title))
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("%q does not exist yet", title)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%q exists at %s", entry.Title, entry.Path)), nil
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ContractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
