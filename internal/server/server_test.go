package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/agent"
	"github.com/atheneum-ai/atheneum/internal/blob"
	"github.com/atheneum-ai/atheneum/internal/config"
	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/queue"
	"github.com/atheneum-ai/atheneum/internal/retrieval"
	"github.com/atheneum-ai/atheneum/internal/store"
)

const testSecret = "test-secret"

type fakeAgent struct {
	req  agent.Request
	resp *agent.Response
	err  error
}

func (f *fakeAgent) Ask(ctx context.Context, req agent.Request) (*agent.Response, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &agent.Response{Answer: "ok", ConversationID: req.ConversationID}, nil
}

func (f *fakeAgent) RegenerateTitle(ctx context.Context, userID, conversationID int64) (string, error) {
	return "新标题", nil
}

type fakeSearcher struct {
	result    retrieval.Result
	lastScope retrieval.Scope
}

func (f *fakeSearcher) Search(ctx context.Context, userID int64, query string, scope retrieval.Scope) (retrieval.Result, error) {
	f.lastScope = scope
	return f.result, nil
}

type fakeBlob struct {
	uploads map[string][]byte
	deleted []string
}

func newFakeBlob() *fakeBlob { return &fakeBlob{uploads: map[string][]byte{}} }

func (f *fakeBlob) Upload(ctx context.Context, key string, data []byte, mime string) (string, error) {
	f.uploads[key] = data
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlob) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBlob) UrlToKey(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, "https://blobs.test/")
	return key, ok
}

type fakeIngest struct {
	docs  []int64
	temps []int64
}

func (f *fakeIngest) SubmitDocument(ctx context.Context, id int64) { f.docs = append(f.docs, id) }

func (f *fakeIngest) SubmitTempFile(ctx context.Context, id, ownerID int64) {
	f.temps = append(f.temps, id)
}

type fakeTasks struct {
	enqueued  []*queue.Task
	task      *queue.Task
	cancelErr error
}

func (f *fakeTasks) Enqueue(ctx context.Context, t *queue.Task) error {
	t.ID = "task-1"
	t.Status = queue.StatusPending
	f.enqueued = append(f.enqueued, t)
	return nil
}

func (f *fakeTasks) Get(ctx context.Context, id string) (*queue.Task, error) {
	if f.task == nil {
		return nil, errs.NotFound("task")
	}
	return f.task, nil
}

func (f *fakeTasks) Cancel(ctx context.Context, id string) error { return f.cancelErr }

type fakeNodes struct{ nodes []queue.Node }

func (f *fakeNodes) Active(ctx context.Context) ([]queue.Node, error) { return f.nodes, nil }

type fakeExecutor struct {
	got queue.Task
	err error
}

func (f *fakeExecutor) Execute(ctx context.Context, t queue.Task) error {
	f.got = t
	return f.err
}

type fakeKnowledge struct {
	kbs  map[int64]*store.KnowledgeBase
	docs map[int64]*store.Document
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{kbs: map[int64]*store.KnowledgeBase{}, docs: map[int64]*store.Document{}}
}

func (f *fakeKnowledge) CreateKB(ctx context.Context, kb *store.KnowledgeBase) error {
	kb.ID = int64(len(f.kbs) + 1)
	f.kbs[kb.ID] = kb
	return nil
}

func (f *fakeKnowledge) GetKB(ctx context.Context, id int64) (*store.KnowledgeBase, error) {
	kb, ok := f.kbs[id]
	if !ok {
		return nil, errs.NotFound("knowledge base")
	}
	return kb, nil
}

func (f *fakeKnowledge) AccessibleKBIDs(ctx context.Context, userID int64, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		kb, ok := f.kbs[id]
		if !ok {
			continue
		}
		if kb.OwnerID == userID || kb.Access == "public" {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeKnowledge) CreateDocument(ctx context.Context, d *store.Document) error {
	d.ID = int64(len(f.docs) + 1)
	d.Status = store.StatusPending
	f.docs[d.ID] = d
	return nil
}

func (f *fakeKnowledge) GetDocument(ctx context.Context, id int64) (*store.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, errs.NotFound("document")
	}
	return d, nil
}

func (f *fakeKnowledge) ListDocuments(ctx context.Context, kbID int64, limit, offset int) ([]store.Document, error) {
	var out []store.Document
	for _, d := range f.docs {
		if d.KBID == kbID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeKnowledge) DeleteDocument(ctx context.Context, id int64) (string, error) {
	d, ok := f.docs[id]
	if !ok {
		return "", errs.NotFound("document")
	}
	delete(f.docs, id)
	return d.BlobKey, nil
}

type fakeConvs struct {
	convs map[int64]*store.Conversation
	temps []*store.TempFile
}

func newFakeConvs() *fakeConvs { return &fakeConvs{convs: map[int64]*store.Conversation{}} }

func (f *fakeConvs) Create(ctx context.Context, ownerID int64) (*store.Conversation, error) {
	c := &store.Conversation{ID: int64(len(f.convs) + 100), OwnerID: ownerID}
	f.convs[c.ID] = c
	return c, nil
}

func (f *fakeConvs) Get(ctx context.Context, id int64) (*store.Conversation, error) {
	c, ok := f.convs[id]
	if !ok {
		return nil, errs.NotFound("conversation")
	}
	return c, nil
}

func (f *fakeConvs) ListForOwner(ctx context.Context, ownerID int64, limit, offset int) ([]store.Conversation, error) {
	var out []store.Conversation
	for _, c := range f.convs {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConvs) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]store.Message, error) {
	return []store.Message{{ConversationID: conversationID, Role: "user", Content: "hi"}}, nil
}

func (f *fakeConvs) Delete(ctx context.Context, id int64) ([]string, error) {
	delete(f.convs, id)
	return []string{"tempfiles/old.txt"}, nil
}

func (f *fakeConvs) CreateTempFile(ctx context.Context, tf *store.TempFile) error {
	tf.ID = int64(len(f.temps) + 1)
	f.temps = append(f.temps, tf)
	return nil
}

type fakePoints struct{}

func (fakePoints) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]store.PointTransaction, error) {
	return []store.PointTransaction{{UserID: userID, Amount: 5, Reason: "每日签到", Type: store.PointEarn}}, nil
}

func (fakePoints) ListEarned(ctx context.Context, userID int64) ([]store.EarnedAchievement, error) {
	return []store.EarnedAchievement{{
		Grant:      store.UserAchievement{UserID: userID, AchievementID: 1, EarnedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		Definition: store.Achievement{ID: 1, Name: "初来乍到", RewardPoints: 10},
	}}, nil
}

type fakeUsers struct {
	creds []credential.Record
}

func (f *fakeUsers) Get(ctx context.Context, id int64) (*store.User, error) {
	return &store.User{ID: id, Username: "u", TotalPoints: 42}, nil
}

func (f *fakeUsers) UpsertCredential(ctx context.Context, rec credential.Record) error {
	f.creds = append(f.creds, rec)
	return nil
}

func (f *fakeUsers) DeleteCredential(ctx context.Context, userID int64, providerType string) error {
	return nil
}

type fakeMCP struct {
	tools []*store.MCPTool
}

func (f *fakeMCP) ListEnabled(ctx context.Context, userID int64) ([]store.MCPTool, error) {
	out := make([]store.MCPTool, len(f.tools))
	for i, t := range f.tools {
		out[i] = *t
	}
	return out, nil
}

func (f *fakeMCP) Upsert(ctx context.Context, t *store.MCPTool) error {
	t.ID = int64(len(f.tools) + 1)
	f.tools = append(f.tools, t)
	return nil
}

func (f *fakeMCP) Delete(ctx context.Context, userID int64, name string) error { return nil }

type fakeSocial struct {
	topics int
}

func (f *fakeSocial) CreateForumTopic(ctx context.Context, userID int64, title, content string) (int64, error) {
	f.topics++
	return int64(f.topics), nil
}

func (f *fakeSocial) DailyCheckin(ctx context.Context, userID int64) (bool, int64, error) {
	return true, 47, nil
}

type testEnv struct {
	srv      *httptest.Server
	agent    *fakeAgent
	blob     *fakeBlob
	ingest   *fakeIngest
	tasks    *fakeTasks
	searcher *fakeSearcher
	executor *fakeExecutor
	kb       *fakeKnowledge
	convs    *fakeConvs
	users    *fakeUsers
	mcp      *fakeMCP
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sealer, err := credential.NewSealer(strings.Repeat("ab", 32))
	require.NoError(t, err)
	env := &testEnv{
		agent:    &fakeAgent{},
		blob:     newFakeBlob(),
		ingest:   &fakeIngest{},
		tasks:    &fakeTasks{},
		searcher: &fakeSearcher{},
		executor: &fakeExecutor{},
		kb:       newFakeKnowledge(),
		convs:    newFakeConvs(),
		users:    &fakeUsers{},
		mcp:      &fakeMCP{},
	}
	s := New(Options{
		Config:        &config.Config{JWTSecret: testSecret, MaxUploadMB: 10},
		Agent:         env.agent,
		Searcher:      env.searcher,
		Blob:          env.blob,
		Ingest:        env.ingest,
		Tasks:         env.tasks,
		Nodes:         &fakeNodes{nodes: []queue.Node{{ID: "node-1", Status: queue.NodeOnline}}},
		Executor:      env.executor,
		Knowledge:     env.kb,
		Conversations: env.convs,
		Points:        fakePoints{},
		Users:         env.users,
		MCP:           env.mcp,
		Social:        &fakeSocial{},
		Sealer:        sealer,
	})
	env.srv = httptest.NewServer(s.Router(log.Context(context.Background())))
	t.Cleanup(env.srv.Close)
	env.token, err = IssueToken(testSecret, 7, time.Hour)
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return e.do(t, method, path, bytes.NewReader(b), "application/json")
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func multipartBody(t *testing.T, fields map[string]string, fileName, fileMIME string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		h.Set("Content-Type", fileMIME)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(fileData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/ai/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/ai/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestQATurn(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{
		"query":           "什么是梯度下降？",
		"kb_ids":          "[1,2]",
		"use_tools":       "true",
		"preferred_tools": `["rag"]`,
	}, "", "", nil)

	resp := env.do(t, http.MethodPost, "/ai/qa", body, ct)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(7), env.agent.req.UserID)
	assert.Equal(t, []int64{1, 2}, env.agent.req.KBIDs)
	assert.True(t, env.agent.req.UseTools)
	assert.Equal(t, []string{"rag"}, env.agent.req.PreferredTools)
}

func TestQAAttachmentCreatesConversationAndTempFile(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"query": "总结这个文件"},
		"notes.txt", "text/plain", []byte("some notes"))

	resp := env.do(t, http.MethodPost, "/ai/qa", body, ct)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, env.convs.temps, 1)
	assert.Equal(t, env.convs.temps[0].ID, env.agent.req.AttachedTempFileID)
	assert.Equal(t, env.convs.temps[0].ConversationID, env.agent.req.ConversationID)
	assert.Equal(t, []int64{1}, env.ingest.temps)
	require.Len(t, env.blob.uploads, 1)
	for key := range env.blob.uploads {
		assert.True(t, strings.HasPrefix(key, blob.PrefixChatTempFiles), key)
	}
}

func TestQARejectsExecutableAttachment(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"query": "run this"},
		"evil.exe", "application/x-msdownload", []byte{0x4d, 0x5a})

	resp := env.do(t, http.MethodPost, "/ai/qa", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.blob.uploads)
}

func TestQAMapsProviderUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	env.agent.err = errs.New(errs.KindProviderUnconfigured, "no chat credential")
	body, ct := multipartBody(t, map[string]string{"query": "hi"}, "", "", nil)

	resp := env.do(t, http.MethodPost, "/ai/qa", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCreateKBValidation(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPost, "/knowledge-bases", map[string]string{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/knowledge-bases", map[string]string{"name": "ml-notes"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var kb store.KnowledgeBase
	decodeBody(t, resp, &kb)
	assert.Equal(t, "private", kb.Access)
}

func TestDocumentUploadAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.kb.kbs[1] = &store.KnowledgeBase{ID: 1, OwnerID: 7, Access: "private"}

	body, ct := multipartBody(t, nil, "paper.pdf", "application/pdf", []byte("%PDF-1.4"))
	resp := env.do(t, http.MethodPost, "/knowledge-bases/1/documents/", body, ct)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var doc store.Document
	decodeBody(t, resp, &doc)
	assert.Equal(t, store.StatusPending, doc.Status)
	assert.Equal(t, []int64{doc.ID}, env.ingest.docs)
	assert.Contains(t, env.blob.uploads, doc.BlobKey)
	assert.True(t, strings.HasPrefix(doc.BlobKey, blob.PrefixKnowledgeDocuments), doc.BlobKey)
}

func TestDocumentUploadRejectsVideo(t *testing.T) {
	env := newTestEnv(t)
	env.kb.kbs[1] = &store.KnowledgeBase{ID: 1, OwnerID: 7}

	body, ct := multipartBody(t, nil, "lecture.mp4", "video/mp4", []byte("xxxx"))
	resp := env.do(t, http.MethodPost, "/knowledge-bases/1/documents/", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.blob.uploads)
}

func TestForeignKBHidden(t *testing.T) {
	env := newTestEnv(t)
	env.kb.kbs[1] = &store.KnowledgeBase{ID: 1, OwnerID: 99, Access: "private"}

	resp := env.do(t, http.MethodGet, "/knowledge-bases/1", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.kb.kbs[2] = &store.KnowledgeBase{ID: 2, OwnerID: 99, Access: "public"}
	resp = env.do(t, http.MethodGet, "/knowledge-bases/2", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeleteDocumentRemovesBlob(t *testing.T) {
	env := newTestEnv(t)
	env.kb.kbs[1] = &store.KnowledgeBase{ID: 1, OwnerID: 7}
	env.kb.docs[3] = &store.Document{ID: 3, KBID: 1, OwnerID: 7, BlobKey: "documents/a.pdf"}

	resp := env.do(t, http.MethodDelete, "/knowledge-bases/1/documents/3", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"documents/a.pdf"}, env.blob.deleted)
}

func TestSemanticSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPost, "/search/semantic", map[string]any{"kb_ids": []int64{1}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSemanticSearchScopesToAccessibleKBs(t *testing.T) {
	env := newTestEnv(t)
	env.kb.kbs[1] = &store.KnowledgeBase{ID: 1, OwnerID: 7, Access: "private"}
	env.kb.kbs[2] = &store.KnowledgeBase{ID: 2, OwnerID: 99, Access: "public"}
	env.kb.kbs[3] = &store.KnowledgeBase{ID: 3, OwnerID: 99, Access: "private"}

	resp := env.doJSON(t, http.MethodPost, "/search/semantic", map[string]any{
		"query":  "attention",
		"kb_ids": []int64{1, 2, 3},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// Own private and foreign public bases survive; foreign private is dropped.
	assert.Equal(t, []int64{1, 2}, env.searcher.lastScope.KBIDs)
}

func TestSubmitTask(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPost, "/distributed/tasks/submit", map[string]any{
		"task_type": "document_processing",
		"priority":  3,
		"data":      map[string]string{"document_id": "5"},
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, env.tasks.enqueued, 1)
	assert.Equal(t, queue.PriorityHigh, env.tasks.enqueued[0].Priority)

	resp = env.doJSON(t, http.MethodPost, "/distributed/tasks/submit", map[string]any{
		"task_type": "mystery",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTaskStatus(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.task = &queue.Task{ID: "task-1", Type: queue.TypeDocumentProcessing, Status: queue.StatusProcessing}

	resp := env.do(t, http.MethodGet, "/distributed/tasks/task-1/status", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got queue.Task
	decodeBody(t, resp, &got)
	assert.Equal(t, queue.StatusProcessing, got.Status)
}

func TestCancelTaskConflict(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.cancelErr = errs.New(errs.KindConflict, "task is processing and cannot be cancelled")
	resp := env.do(t, http.MethodPost, "/distributed/tasks/abc/cancel", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWorkerExecute(t *testing.T) {
	env := newTestEnv(t)
	task := queue.Task{ID: "t1", Type: queue.TypeBlobCompensation, Data: map[string]string{"blob_key": "k"}}
	b, _ := json.Marshal(task)

	resp, err := http.Post(env.srv.URL+"/api/worker/execute", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "t1", env.executor.got.ID)
}

func TestWorkerExecuteReportsError(t *testing.T) {
	env := newTestEnv(t)
	env.executor.err = errs.New(errs.KindBadRequest, "no handler")
	b, _ := json.Marshal(queue.Task{ID: "t1", Type: "mystery"})

	resp, err := http.Post(env.srv.URL+"/api/worker/execute", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "error", out["status"])
	assert.Contains(t, out["error"], "no handler")
}

func TestPointsHistory(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/users/me/points/history", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		TotalPoints  int64                    `json:"total_points"`
		Transactions []store.PointTransaction `json:"transactions"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, int64(42), out.TotalPoints)
	require.Len(t, out.Transactions, 1)
	assert.Equal(t, "每日签到", out.Transactions[0].Reason)
}

func TestAchievements(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/users/me/achievements", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Achievements []struct {
			Name string `json:"name"`
		} `json:"achievements"`
	}
	decodeBody(t, resp, &out)
	require.Len(t, out.Achievements, 1)
	assert.Equal(t, "初来乍到", out.Achievements[0].Name)
}

func TestCheckin(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/users/me/checkin", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Awarded     bool  `json:"awarded"`
		TotalPoints int64 `json:"total_points"`
	}
	decodeBody(t, resp, &out)
	assert.True(t, out.Awarded)
	assert.Equal(t, int64(47), out.TotalPoints)
}

func TestUpsertCredentialSealsKey(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPut, "/users/me/credentials", map[string]any{
		"provider_type": "siliconflow",
		"api_key":       "sk-secret",
		"model_ids":     []string{"deepseek-v3"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, env.users.creds, 1)
	assert.NotEqual(t, "sk-secret", env.users.creds[0].EncryptedKey)
	assert.NotEmpty(t, env.users.creds[0].EncryptedKey)
}

func TestUpsertCredentialRejectsUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPut, "/users/me/credentials", map[string]any{
		"provider_type": "skynet",
		"api_key":       "sk-x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpsertMCPToolValidatesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPost, "/users/me/mcp-tools", map[string]any{
		"name":     "weather",
		"endpoint": "ftp://nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/users/me/mcp-tools", map[string]any{
		"name":         "weather",
		"endpoint":     "https://tools.example.com/weather",
		"input_schema": map[string]any{"type": "object"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, env.mcp.tools, 1)
	assert.True(t, env.mcp.tools[0].Enabled)
}

func TestCreateForumTopic(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPost, "/forum/topics", map[string]string{
		"title":   "学习小组招募",
		"content": "每周三晚讨论",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/forum/topics", map[string]string{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteConversationCleansBlobs(t *testing.T) {
	env := newTestEnv(t)
	env.convs.convs[5] = &store.Conversation{ID: 5, OwnerID: 7}

	resp := env.do(t, http.MethodDelete, "/ai/conversations/5", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"tempfiles/old.txt"}, env.blob.deleted)
}

func TestForeignConversationHidden(t *testing.T) {
	env := newTestEnv(t)
	env.convs.convs[5] = &store.Conversation{ID: 5, OwnerID: 99}

	resp := env.do(t, http.MethodGet, "/ai/conversations/5/messages", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
