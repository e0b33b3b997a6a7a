//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kittclouds/voton/internal/store"
	"github.com/kittclouds/voton/pkg/docstore"
	"github.com/kittclouds/voton/pkg/events"
	"github.com/kittclouds/voton/pkg/logger"
	"github.com/kittclouds/voton/pkg/metrics"
	"github.com/kittclouds/voton/pkg/pages"
	"github.com/kittclouds/voton/pkg/search"
	"github.com/kittclouds/voton/pkg/sidebar"
	"github.com/kittclouds/voton/pkg/transfer"
)

// Version info
const Version = "1.0.0"

// Global state
var log zerolog.Logger
var registry *prometheus.Registry
var repo *pages.Repository    // Page repository over the SQLite store
var bulk *transfer.Service    // Export / import / clear
var index *search.Index       // Search palette
var tree *sidebar.Tree        // Sidebar tree
var docs *docstore.Store      // Open documents
var goneCallback js.Value     // JS callback for closed documents

func main() {
	data, err := logger.New().Level("info").Component("wasm").Make()
	if err != nil {
		fmt.Println("[Voton] logger:", err.Error())
		log = zerolog.Nop()
	} else {
		log = data.Logger
	}

	registry = prometheus.NewRegistry()
	metrics.RegisterCollectors(registry)

	fmt.Println("[Voton] WASM Ready v" + Version)

	// Register exports
	js.Global().Set("Voton", js.ValueOf(map[string]interface{}{
		"version":   js.FuncOf(getVersion),
		"storeInit": js.FuncOf(storeInit),
		// Page Repository API
		"addPage":                js.FuncOf(addPage),
		"getPage":                js.FuncOf(getPage),
		"getAllPages":            js.FuncOf(getAllPages),
		"getRootPages":           js.FuncOf(getRootPages),
		"getChildPages":          js.FuncOf(getChildPages),
		"updatePage":             js.FuncOf(updatePage),
		"deletePage":             js.FuncOf(deletePage),
		"deletePageWithChildren": js.FuncOf(deletePageWithChildren),
		// Change notifications
		"subscribe": js.FuncOf(subscribe),
		// Bulk Transfer
		"exportData":     js.FuncOf(exportData),
		"exportFileName": js.FuncOf(exportFileName),
		"importData":     js.FuncOf(importData),
		"clearAllData":   js.FuncOf(clearAllData),
		// Views
		"search":          js.FuncOf(searchPages),
		"sidebarTree":     js.FuncOf(sidebarTree),
		"sidebarExpand":   js.FuncOf(sidebarExpand),
		"sidebarCollapse": js.FuncOf(sidebarCollapse),
		"openDocument":    js.FuncOf(openDocument),
		"closeDocument":   js.FuncOf(closeDocument),
		"onDocumentGone":  js.FuncOf(onDocumentGone),
		"metrics":         js.FuncOf(getMetrics),
	}))

	select {}
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// Helper: Create error result
func errorResult(msg string) interface{} {
	result := map[string]interface{}{
		"error": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}

// Helper: Create success result
func successResult(msg string) interface{} {
	result := map[string]interface{}{
		"success": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}

// Helper: Marshal any value to a JSON string result
func jsonResult(v interface{}) interface{} {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult("encode failed: " + err.Error())
	}
	return string(jsonBytes)
}

// =============================================================================
// Store lifecycle
// =============================================================================

// storeInit opens the store and attaches the views.
// Args: [dsn string (optional, defaults to in-memory)]
func storeInit(this js.Value, args []js.Value) interface{} {
	if repo != nil {
		return successResult("store already initialized")
	}

	dsn := store.MemoryDSN
	if len(args) > 0 && args[0].Type() == js.TypeString && args[0].String() != "" {
		dsn = args[0].String()
	}

	ctx := context.Background()
	s, err := store.Shared(ctx, dsn)
	if err != nil {
		return errorResult("failed to initialize SQLite store: " + err.Error())
	}

	r := pages.New(s, events.NewBus(log), pages.WithLogger(log))
	ix := search.NewIndex(r, log)
	if err := ix.Attach(ctx); err != nil {
		return errorResult("search index: " + err.Error())
	}
	t := sidebar.New(r, log)
	if err := t.Attach(ctx); err != nil {
		ix.Close()
		return errorResult("sidebar: " + err.Error())
	}
	d := docstore.New(r, docstore.WithLogger(log), docstore.WithOnGone(documentGone))
	d.Watch()

	repo, bulk, index, tree, docs = r, transfer.New(r, transfer.WithLogger(log)), ix, t, d
	fmt.Println("[Voton] ✅ SQLite Store initialized")
	return successResult("store initialized")
}

func ready() bool {
	return repo != nil
}

// =============================================================================
// Page Repository API
// =============================================================================

// addPage creates a page.
// Args: [newPageJSON string] - {title, parentDocument?, content?, coverImage?, icon?}
// Returns: Page JSON
func addPage(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("addPage requires 1 arg: pageJSON")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	var np pages.NewPage
	if err := json.Unmarshal([]byte(args[0].String()), &np); err != nil {
		return errorResult("invalid page json: " + err.Error())
	}

	page, err := repo.Add(context.Background(), np)
	if err != nil {
		return errorResult("add failed: " + err.Error())
	}
	return jsonResult(page)
}

// getPage retrieves a page by ID.
// Args: [id string]
// Returns: Page JSON or null
func getPage(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("getPage requires 1 arg: id")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	page, err := repo.Get(context.Background(), args[0].String())
	if err != nil {
		return errorResult("get failed: " + err.Error())
	}
	if page == nil {
		return "null"
	}
	return jsonResult(page)
}

// getAllPages returns every page.
func getAllPages(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}

	all, err := repo.GetAll(context.Background())
	if err != nil {
		return errorResult("list failed: " + err.Error())
	}
	return jsonResult(all)
}

// getRootPages returns pages without a parent.
func getRootPages(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}

	roots, err := repo.GetRoots(context.Background())
	if err != nil {
		return errorResult("list failed: " + err.Error())
	}
	return jsonResult(roots)
}

// getChildPages returns the direct children of a page.
// Args: [parentId string]
func getChildPages(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("getChildPages requires 1 arg: parentId")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	children, err := repo.GetChildren(context.Background(), args[0].String())
	if err != nil {
		return errorResult("list failed: " + err.Error())
	}
	return jsonResult(children)
}

// updatePage merges a partial page over the stored one. A null field value
// removes that field.
// Args: [id string, patchJSON string]
// Returns: Page JSON or null when the page does not exist
func updatePage(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("updatePage requires 2 args: id, patchJSON")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	var patch pages.Patch
	if err := json.Unmarshal([]byte(args[1].String()), &patch); err != nil {
		return errorResult("invalid patch json: " + err.Error())
	}

	page, err := repo.Update(context.Background(), args[0].String(), patch)
	if err != nil {
		return errorResult("update failed: " + err.Error())
	}
	if page == nil {
		return "null"
	}
	return jsonResult(page)
}

// deletePage removes one page. Children keep their parent reference.
// Args: [id string]
func deletePage(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("deletePage requires 1 arg: id")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	ok, err := repo.Delete(context.Background(), args[0].String())
	if err != nil {
		return errorResult("delete failed: " + err.Error())
	}
	return jsonResult(map[string]bool{"deleted": ok})
}

// deletePageWithChildren removes a page and its whole subtree.
// Args: [id string]
func deletePageWithChildren(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("deletePageWithChildren requires 1 arg: id")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	ok, err := repo.DeleteWithChildren(context.Background(), args[0].String())
	if err != nil {
		return errorResult("delete failed: " + err.Error())
	}
	return jsonResult(map[string]bool{"deleted": ok})
}

// =============================================================================
// Change notifications
// =============================================================================

// subscribe registers a JS callback that receives "changed" or "deleted".
// Args: [callback function, kind string (optional)]
// Returns: unsubscribe function
func subscribe(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeFunction {
		return errorResult("subscribe requires 1 arg: callback")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	var kinds []events.Kind
	if len(args) > 1 && args[1].Type() == js.TypeString {
		switch args[1].String() {
		case events.Changed.String():
			kinds = append(kinds, events.Changed)
		case events.Deleted.String():
			kinds = append(kinds, events.Deleted)
		default:
			return errorResult("unknown event kind: " + args[1].String())
		}
	}

	cb := args[0]
	sub := repo.Bus().Subscribe(func(kind events.Kind) {
		cb.Invoke(kind.String())
	}, kinds...)

	var unsubscribe js.Func
	unsubscribe = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		sub.Unsubscribe()
		unsubscribe.Release()
		return nil
	})
	return unsubscribe
}

// =============================================================================
// Bulk Transfer
// =============================================================================

// exportData serializes every page to the export envelope.
// Returns: JSON string
func exportData(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}

	data, err := bulk.Export(context.Background())
	if err != nil {
		return errorResult("export failed: " + err.Error())
	}
	return string(data)
}

// exportFileName returns the suggested download name for an export.
func exportFileName(this js.Value, args []js.Value) interface{} {
	return transfer.FileName(time.Now())
}

// importData replaces every page with the contents of an export envelope.
// Args: [envelopeJSON string]
func importData(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("importData requires 1 arg: envelopeJSON")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	n, err := bulk.Import(context.Background(), []byte(args[0].String()))
	if err != nil {
		return errorResult("import failed: " + err.Error())
	}
	fmt.Printf("[Voton] ✅ Imported %d pages\n", n)
	return jsonResult(map[string]int{"imported": n})
}

// clearAllData deletes every page.
func clearAllData(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}

	if err := bulk.ClearAll(context.Background()); err != nil {
		return errorResult("clear failed: " + err.Error())
	}
	return successResult("cleared")
}

// =============================================================================
// Views
// =============================================================================

// searchPages queries the search palette index.
// Args: [query string]
func searchPages(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}

	query := ""
	if len(args) > 0 {
		query = args[0].String()
	}
	return jsonResult(index.Search(query))
}

type treeNode struct {
	Page     *store.Page `json:"page"`
	Expanded bool        `json:"expanded"`
	Children []treeNode  `json:"children,omitempty"`
}

func toTreeNodes(nodes []*sidebar.Node) []treeNode {
	out := make([]treeNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, treeNode{Page: n.Page, Expanded: n.Expanded, Children: toTreeNodes(n.Children)})
	}
	return out
}

// sidebarTree returns the visible sidebar tree.
func sidebarTree(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	return jsonResult(toTreeNodes(tree.Roots()))
}

// sidebarExpand shows the children of a page.
// Args: [id string]
func sidebarExpand(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("sidebarExpand requires 1 arg: id")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	if err := tree.Expand(context.Background(), args[0].String()); err != nil {
		return errorResult("expand failed: " + err.Error())
	}
	return jsonResult(toTreeNodes(tree.Roots()))
}

// sidebarCollapse hides the children of a page.
// Args: [id string]
func sidebarCollapse(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("sidebarCollapse requires 1 arg: id")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	if err := tree.Collapse(context.Background(), args[0].String()); err != nil {
		return errorResult("collapse failed: " + err.Error())
	}
	return jsonResult(toTreeNodes(tree.Roots()))
}

// openDocument loads a page into the open document view.
// Args: [id string]
// Returns: {page, version} or null
func openDocument(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("openDocument requires 1 arg: id")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	doc, err := docs.Open(context.Background(), args[0].String())
	if err != nil {
		return errorResult("open failed: " + err.Error())
	}
	if doc == nil {
		return "null"
	}
	return jsonResult(map[string]interface{}{"page": doc.Page, "version": doc.Version})
}

// closeDocument drops a page from the open document view.
// Args: [id string]
func closeDocument(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("closeDocument requires 1 arg: id")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	docs.Remove(args[0].String())
	return successResult("closed " + args[0].String())
}

// onDocumentGone registers the callback fired with the id of an open page
// that was deleted.
// Args: [callback function]
func onDocumentGone(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeFunction {
		return errorResult("onDocumentGone requires 1 arg: callback")
	}
	goneCallback = args[0]
	return successResult("registered")
}

func documentGone(id string) {
	if goneCallback.Type() == js.TypeFunction {
		goneCallback.Invoke(id)
	}
}

// getMetrics returns the operation counters as {name{labels}: value}.
func getMetrics(this js.Value, args []js.Value) interface{} {
	families, err := registry.Gather()
	if err != nil {
		return errorResult("gather failed: " + err.Error())
	}

	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for i, lp := range m.GetLabel() {
				sep := ","
				if i == 0 {
					sep = "{"
				}
				name += sep + lp.GetName() + "=" + lp.GetValue()
			}
			if len(m.GetLabel()) > 0 {
				name += "}"
			}
			out[name] = m.GetCounter().GetValue()
		}
	}
	return jsonResult(out)
}
