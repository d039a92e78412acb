package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nixnav/nixnavd/internal/protocol"
	"github.com/nixnav/nixnavd/internal/scanner"
	"github.com/nixnav/nixnavd/internal/store"
)

func (s *Server) handleStats() protocol.StatsResponse {
	return protocol.StatsResponse{
		Files:     s.store.FileCount(),
		Trigrams:  s.store.TrigramCount(),
		Bookmarks: len(s.bookmarks.All()),
	}
}

func (s *Server) handleSearch(body string) (protocol.SearchResponse, error) {
	var req protocol.SearchRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return protocol.SearchResponse{}, protocol.NewError(protocol.KindBadRequest, "malformed SEARCH body: "+err.Error())
	}

	bm, ok := s.bookmarks.ByPath(req.BookmarkPath)
	if !ok {
		return protocol.SearchResponse{}, protocol.NewError(protocol.KindBadArgument, "unknown bookmark path: "+req.BookmarkPath)
	}

	mode, err := parseMode(req.Mode)
	if err != nil {
		return protocol.SearchResponse{}, err
	}

	query, ext, narrowedRoot := store.ParseQuery(req.Query, s.lookupBookmarkRoot)
	roots := []string{bm.Path}
	if narrowedRoot != "" {
		roots = []string{narrowedRoot}
	}
	if ext == "" {
		ext = derefOr(req.Extension, "")
	}

	start := time.Now()
	results := s.store.Search(store.Query{
		Roots:     roots,
		Mode:      mode,
		Search:    query,
		Extension: ext,
	})
	elapsed := time.Since(start).Milliseconds()

	return protocol.SearchResponse{
		Results:      toWireResults(results),
		TotalIndexed: s.store.FileCount(),
		SearchTimeMs: elapsed,
	}, nil
}

func (s *Server) handleSearchAll(body string) (protocol.SearchResponse, error) {
	var req protocol.SearchAllRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return protocol.SearchResponse{}, protocol.NewError(protocol.KindBadRequest, "malformed SEARCH_ALL body: "+err.Error())
	}

	roots := req.BookmarkPaths
	if len(roots) == 0 {
		roots = s.bookmarks.Roots()
	}

	query, ext, narrowedRoot := store.ParseQuery(req.Query, s.lookupBookmarkRoot)
	if narrowedRoot != "" {
		roots = []string{narrowedRoot}
	}
	if ext == "" {
		ext = derefOr(req.Extension, "")
	}

	start := time.Now()
	results := s.store.Search(store.Query{
		Roots:     roots,
		Mode:      store.ModeAll,
		Search:    query,
		Extension: ext,
	})
	elapsed := time.Since(start).Milliseconds()

	return protocol.SearchResponse{
		Results:      toWireResults(results),
		TotalIndexed: s.store.FileCount(),
		SearchTimeMs: elapsed,
	}, nil
}

func (s *Server) handleRescan(ctx context.Context, path string) (protocol.OKResponse, error) {
	if path == "" {
		return protocol.OKResponse{}, protocol.NewError(protocol.KindBadArgument, "RESCAN requires a path argument")
	}

	removed := s.store.RemoveSubtree(path)
	_ = removed // the fresh walk below re-populates everything still present

	indexed := 0
	bm, hasBookmark := s.bookmarks.ByPath(path)
	var bookmarkID uint64
	if hasBookmark {
		bookmarkID = bm.ID
	}

	err := s.scanner.Walk(ctx, path, func(e scanner.Entry) {
		s.store.Insert(e.Path, e.IsDir, e.ModTime, e.Size, bookmarkID)
		indexed++
	})
	if err != nil {
		return protocol.OKResponse{}, protocol.NewError(protocol.KindIOError, "rescan failed: "+err.Error())
	}

	return protocol.OKResponse{Status: "ok", Indexed: indexed}, nil
}

func (s *Server) handleAddBookmark(ctx context.Context, body string) (protocol.OKResponse, error) {
	var req protocol.AddBookmarkRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return protocol.OKResponse{}, protocol.NewError(protocol.KindBadRequest, "malformed ADD_BOOKMARK body: "+err.Error())
	}
	if req.Name == "" || req.Path == "" {
		return protocol.OKResponse{}, protocol.NewError(protocol.KindBadArgument, "ADD_BOOKMARK requires name and path")
	}

	bm, err := s.bookmarks.Add(req.Name, req.Path, req.IsNetwork)
	if err != nil {
		return protocol.OKResponse{}, protocol.NewError(protocol.KindBadArgument, err.Error())
	}

	indexed := 0
	walkErr := s.scanner.Walk(ctx, bm.Path, func(e scanner.Entry) {
		s.store.Insert(e.Path, e.IsDir, e.ModTime, e.Size, bm.ID)
		indexed++
	})
	if walkErr != nil {
		return protocol.OKResponse{}, protocol.NewError(protocol.KindIOError, "initial scan failed: "+walkErr.Error())
	}

	if !bm.IsNetwork && s.rescan != nil {
		if watchErr := s.rescan(bm.ID, bm.Path); watchErr != nil {
			return protocol.OKResponse{}, protocol.NewError(protocol.KindInternal, "failed to start watcher: "+watchErr.Error())
		}
	}

	return protocol.OKResponse{Status: "ok", Indexed: indexed}, nil
}

func (s *Server) handleRemoveBookmark(body string) (protocol.StatusResponse, error) {
	var req protocol.RemoveBookmarkRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return protocol.StatusResponse{}, protocol.NewError(protocol.KindBadRequest, "malformed REMOVE_BOOKMARK body: "+err.Error())
	}
	if _, ok := s.bookmarks.Remove(req.Name); !ok {
		return protocol.StatusResponse{}, protocol.NewError(protocol.KindBadArgument, "unknown bookmark: "+req.Name)
	}
	return protocol.StatusResponse{Status: "ok"}, nil
}

func parseMode(raw string) (store.Mode, error) {
	switch raw {
	case "", "all":
		return store.ModeAll, nil
	case "files":
		return store.ModeFiles, nil
	case "dirs":
		return store.ModeDirs, nil
	default:
		return 0, protocol.NewError(protocol.KindBadArgument, "unknown mode: "+raw)
	}
}

func toWireResults(results []store.Result) []protocol.SearchResultItem {
	out := make([]protocol.SearchResultItem, len(results))
	for i, r := range results {
		out[i] = protocol.SearchResultItem{Path: r.Path, IsDir: r.IsDir, Size: r.Size, MTime: r.ModTime}
	}
	return out
}

func derefOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
