package askdocs

// Config holds all configuration for the askdocs engine.
// Zero-value fields are filled with defaults by New.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	DBPath string `json:"db_path" yaml:"db_path"`

	Uploads   UploadsConfig   `json:"uploads" yaml:"uploads"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Chunk     ChunkConfig     `json:"chunk" yaml:"chunk"`
	Retriever RetrieverConfig `json:"retriever" yaml:"retriever"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`

	// DomainRules are evaluated in order before the LLM is consulted.
	DomainRules []DomainRule `json:"domain_rules" yaml:"domain_rules"`

	// BlockedResponsePatterns mark LLM refusal templates. A generated
	// answer containing any of these phrases is treated as invalid.
	BlockedResponsePatterns []string `json:"blocked_response_patterns" yaml:"blocked_response_patterns"`

	// NotFoundTemplate is returned when retrieval yields nothing usable.
	NotFoundTemplate string `json:"not_found_template" yaml:"not_found_template"`

	// MaxQuestionLen caps the accepted question length in characters.
	MaxQuestionLen int `json:"max_question_len" yaml:"max_question_len"`
}

// UploadsConfig controls where uploaded files are stored.
type UploadsConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	MaxBytes int64  `json:"max_bytes" yaml:"max_bytes"`
}

// EmbeddingConfig configures the embedding service endpoint and model.
// Changing ModelID or Dimension requires re-ingesting all documents.
type EmbeddingConfig struct {
	ModelID       string `json:"model_id" yaml:"model_id"`
	Dimension     int    `json:"dimension" yaml:"dimension"`
	BaseURL       string `json:"base_url" yaml:"base_url"`
	APIKey        string `json:"api_key" yaml:"api_key"`
	MaxInputChars int    `json:"max_input_chars" yaml:"max_input_chars"`
}

// ChunkConfig controls text splitting.
type ChunkConfig struct {
	Size    int `json:"size" yaml:"size"`
	Overlap int `json:"overlap" yaml:"overlap"`
	MinSize int `json:"min_size" yaml:"min_size"`
}

// RetrieverConfig controls hybrid search behaviour. Stopwords and
// Synonyms are locale-bound data; defaults target Russian HR queries.
type RetrieverConfig struct {
	Limit                 int                 `json:"limit" yaml:"limit"`
	VectorThreshold       float64             `json:"vector_threshold" yaml:"vector_threshold"`
	TextFallbackThreshold int                 `json:"text_fallback_threshold" yaml:"text_fallback_threshold"`
	Stopwords             []string            `json:"stopwords" yaml:"stopwords"`
	Synonyms              map[string][]string `json:"synonyms" yaml:"synonyms"`
}

// LLMConfig configures the chat-completion service and its OAuth flow.
// Credential is a secret; load it from the environment, never from
// checked-in config files, and never log it.
type LLMConfig struct {
	Endpoint              string  `json:"endpoint" yaml:"endpoint"`
	AuthEndpoint          string  `json:"auth_endpoint" yaml:"auth_endpoint"`
	Scope                 string  `json:"scope" yaml:"scope"`
	Credential            string  `json:"-" yaml:"-"`
	Model                 string  `json:"model" yaml:"model"`
	MaxTokens             int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature           float64 `json:"temperature" yaml:"temperature"`
	TimeoutSec            int     `json:"timeout_sec" yaml:"timeout_sec"`
	TokenRefreshMarginSec int     `json:"token_refresh_margin_sec" yaml:"token_refresh_margin_sec"`
}

// IngestConfig controls ingestion deadlines and parallelism.
type IngestConfig struct {
	SoftDeadlineSec int `json:"soft_deadline_sec" yaml:"soft_deadline_sec"`
	HardDeadlineSec int `json:"hard_deadline_sec" yaml:"hard_deadline_sec"`
	EmbedWorkers    int `json:"embed_workers" yaml:"embed_workers"`
	InsertBatchSize int `json:"insert_batch_size" yaml:"insert_batch_size"`
}

// DomainRule is a data-driven canned answer: when the question contains
// any of the keywords (case-insensitive), Answer is returned verbatim
// with Sources as citations, bypassing the LLM.
type DomainRule struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Answer   string   `json:"answer" yaml:"answer"`
	Sources  []string `json:"sources" yaml:"sources"`

	// RequireDateInLLMAnswer makes this rule also act as a post-check:
	// if the question matches and the LLM answer contains no day-of-month
	// token, the canned answer replaces it.
	RequireDateInLLMAnswer bool `json:"require_date_in_llm_answer" yaml:"require_date_in_llm_answer"`
}

// DefaultConfig returns a Config with sensible defaults for a Russian
// corporate HR deployment.
func DefaultConfig() Config {
	return Config{
		DBPath: "askdocs.db",
		Uploads: UploadsConfig{
			Dir:      "uploads",
			MaxBytes: 50 << 20,
		},
		Embedding: EmbeddingConfig{
			ModelID:       "cointegrated/rubert-tiny2",
			Dimension:     312,
			BaseURL:       "http://localhost:8090",
			MaxInputChars: 2000,
		},
		Chunk: ChunkConfig{
			Size:    1500,
			Overlap: 200,
			MinSize: 10,
		},
		Retriever: RetrieverConfig{
			Limit:           15,
			VectorThreshold: 0.55,
			// TextFallbackThreshold 0 means Limit/2.
			Stopwords: []string{
				"когда", "какой", "какая", "какие", "каком",
				"где", "что", "как", "это", "для", "чем", "при",
				"почему", "сколько", "можно", "нужно",
			},
			Synonyms: map[string][]string{
				"зарплата": {"заработная", "оклад", "выплата", "аванс"},
				"отпуск":   {"отдых", "отгул"},
				"больничный": {"нетрудоспособность", "болезнь"},
				"увольнение": {"расторжение", "уход"},
				"премия":   {"бонус", "вознаграждение"},
			},
		},
		LLM: LLMConfig{
			Endpoint:              "https://gigachat.devices.sberbank.ru/api/v1",
			AuthEndpoint:          "https://ngw.devices.sberbank.ru:9443/api/v2/oauth",
			Scope:                 "GIGACHAT_API_PERS",
			Model:                 "GigaChat",
			MaxTokens:             1500,
			Temperature:           0.3,
			TimeoutSec:            30,
			TokenRefreshMarginSec: 300,
		},
		Ingest: IngestConfig{
			SoftDeadlineSec: 25 * 60,
			HardDeadlineSec: 30 * 60,
			EmbedWorkers:    4,
			InsertBatchSize: 32,
		},
		DomainRules: []DomainRule{
			{
				Name: "salary-dates",
				Keywords: []string{
					"зарплата", "зарплату", "зарплаты", "оклад",
					"выплата", "выплаты", "аванс", "получка",
				},
				Answer: "Согласно правилам внутреннего трудового распорядка, " +
					"заработная плата выплачивается два раза в месяц. " +
					"Установленными днями для расчетов с работниками являются " +
					"12-е и 27-е числа месяца.",
				Sources: []string{
					"Правила внутреннего трудового распорядка",
					"Положение об оплате труда",
				},
				RequireDateInLLMAnswer: true,
			},
		},
		BlockedResponsePatterns: []string{
			"Генеративные языковые модели не обладают собственным мнением",
			"не могу обсуждать эту тему",
			"Как у нейросетевой языковой модели",
			"я не могу предоставить",
			"cannot discuss this topic",
			"as an AI language model",
		},
		NotFoundTemplate: "К сожалению, я не нашёл информации по вашему вопросу " +
			"в загруженных документах. Попробуйте переформулировать вопрос или " +
			"обратитесь в отдел кадров.",
		MaxQuestionLen: 2000,
	}
}

// fillDefaults replaces zero-value fields with values from DefaultConfig.
// Explicitly set fields are preserved.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = def.Uploads.Dir
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = def.Uploads.MaxBytes
	}
	if c.Embedding.ModelID == "" {
		c.Embedding.ModelID = def.Embedding.ModelID
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = def.Embedding.Dimension
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = def.Embedding.BaseURL
	}
	if c.Embedding.MaxInputChars == 0 {
		c.Embedding.MaxInputChars = def.Embedding.MaxInputChars
	}
	if c.Chunk.Size == 0 {
		c.Chunk.Size = def.Chunk.Size
	}
	if c.Chunk.Overlap == 0 {
		c.Chunk.Overlap = def.Chunk.Overlap
	}
	if c.Chunk.MinSize == 0 {
		c.Chunk.MinSize = def.Chunk.MinSize
	}
	if c.Retriever.Limit == 0 {
		c.Retriever.Limit = def.Retriever.Limit
	}
	if c.Retriever.VectorThreshold == 0 {
		c.Retriever.VectorThreshold = def.Retriever.VectorThreshold
	}
	if c.Retriever.Stopwords == nil {
		c.Retriever.Stopwords = def.Retriever.Stopwords
	}
	if c.Retriever.Synonyms == nil {
		c.Retriever.Synonyms = def.Retriever.Synonyms
	}
	if c.LLM.Endpoint == "" {
		c.LLM.Endpoint = def.LLM.Endpoint
	}
	if c.LLM.AuthEndpoint == "" {
		c.LLM.AuthEndpoint = def.LLM.AuthEndpoint
	}
	if c.LLM.Scope == "" {
		c.LLM.Scope = def.LLM.Scope
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = def.LLM.Temperature
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = def.LLM.TimeoutSec
	}
	if c.LLM.TokenRefreshMarginSec == 0 {
		c.LLM.TokenRefreshMarginSec = def.LLM.TokenRefreshMarginSec
	}
	if c.Ingest.SoftDeadlineSec == 0 {
		c.Ingest.SoftDeadlineSec = def.Ingest.SoftDeadlineSec
	}
	if c.Ingest.HardDeadlineSec == 0 {
		c.Ingest.HardDeadlineSec = def.Ingest.HardDeadlineSec
	}
	if c.Ingest.EmbedWorkers == 0 {
		c.Ingest.EmbedWorkers = def.Ingest.EmbedWorkers
	}
	if c.Ingest.InsertBatchSize == 0 {
		c.Ingest.InsertBatchSize = def.Ingest.InsertBatchSize
	}
	if c.DomainRules == nil {
		c.DomainRules = def.DomainRules
	}
	if c.BlockedResponsePatterns == nil {
		c.BlockedResponsePatterns = def.BlockedResponsePatterns
	}
	if c.NotFoundTemplate == "" {
		c.NotFoundTemplate = def.NotFoundTemplate
	}
	if c.MaxQuestionLen == 0 {
		c.MaxQuestionLen = def.MaxQuestionLen
	}
}
