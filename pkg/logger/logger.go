package logger

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	logMu  sync.Mutex
)

// FieldTradeID 交易日志统一使用的字段名
const FieldTradeID = "trade_id"

// 私钥/助记词字段整体抹掉；消息文本里只抹掉连续 12 个以上 BIP-39 单词
// 交易哈希同样是 32 字节十六进制，所以不按格式匹配私钥
var secretFields = map[string]bool{
	"private_key": true,
	"mnemonic":    true,
	"secret":      true,
	"password":    true,
}

const (
	redacted         = "[redacted]"
	minMnemonicWords = 12
)

var (
	wordPattern = regexp.MustCompile(`[a-z]+`)
	bip39Words  = func() map[string]bool {
		set := make(map[string]bool, 2048)
		for _, w := range bip39.GetWordList() {
			set[w] = true
		}
		return set
	}()
)

// redactMnemonic 找出只由空格分隔、且全部在 BIP-39 词表中的单词串
func redactMnemonic(msg string) string {
	locs := wordPattern.FindAllStringIndex(msg, -1)
	var (
		out   strings.Builder
		last  int
		start = -1
		count int
	)
	flush := func(end int) {
		if start >= 0 && count >= minMnemonicWords {
			out.WriteString(msg[last:start])
			out.WriteString(redacted)
			last = end
		}
		start, count = -1, 0
	}
	prevEnd := 0
	for _, loc := range locs {
		w := msg[loc[0]:loc[1]]
		joined := start >= 0 && strings.TrimLeft(msg[prevEnd:loc[0]], " ") == ""
		switch {
		case !bip39Words[w]:
			flush(prevEnd)
		case joined:
			count++
		default:
			flush(prevEnd)
			start, count = loc[0], 1
		}
		prevEnd = loc[1]
	}
	flush(prevEnd)
	out.WriteString(msg[last:])
	return out.String()
}

type redactHook struct{}

func (redactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (redactHook) Fire(e *logrus.Entry) error {
	e.Message = redactMnemonic(e.Message)
	for k := range e.Data {
		if secretFields[k] {
			e.Data[k] = redacted
		}
	}
	return nil
}

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	Quiet      bool   // 不输出到控制台（TUI 模式下避免干扰界面）
}

func newFormatter(colors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     colors,
		DisableColors:   !colors,
	}
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter(!config.Quiet))

	var writers []io.Writer
	if !config.Quiet {
		writers = append(writers, os.Stdout)
	}

	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	out := io.MultiWriter(writers...)
	logger.SetOutput(out)
	logger.AddHook(redactHook{})

	// 全局 logrus 同步设置，第三方组件里的 logrus.WithField 也写到同一输出
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter(!config.Quiet))

	Logger = logger
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/p2pbuy.log",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	})
}

func base() *logrus.Logger {
	if Logger != nil {
		return Logger
	}
	return logrus.StandardLogger()
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	base().Debugf(format, args...)
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	base().Info(args...)
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	base().Infof(format, args...)
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	base().Warnf(format, args...)
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	base().Errorf(format, args...)
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	return base().WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	return base().WithFields(fields)
}

// Component 组件日志入口，统一带 component 字段
func Component(name string) *logrus.Entry {
	return base().WithField("component", name)
}

// ForTrade 带 component 和 trade_id 的日志入口
func ForTrade(component, tradeID string) *logrus.Entry {
	return Component(component).WithField(FieldTradeID, tradeID)
}
