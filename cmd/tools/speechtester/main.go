package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/abby/backend/internal/config"
	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
	"github.com/zhouzirui/abby/backend/internal/service/speech"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

func main() {
	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "ASR 输入音频格式，默认按扩展名推断")
	voice := flag.String("voice", "", "TTS 声音，默认使用配置中的 TTSVoice")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Init(log.ZapConfig{Level: "info"}).Fatalf(context.Background(), "配置加载失败: %v", err)
	}
	logger := log.Init(log.ZapConfig{
		Level:        "debug",
		Mode:         "dev",
		Encoding:     "console",
		ColorEnabled: cfg.Logger.ColorEnabled,
	})
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if envErr != nil {
		logger.Warnf(ctx, "无法加载 .env，改用系统环境变量: %v", envErr)
	}

	svc := speech.NewService(speechmodel.SpeechConfig{
		AppID:       cfg.Speech.AppID,
		AccessToken: cfg.Speech.AccessToken,
		AccessKey:   cfg.Speech.AccessKey,
		SecretKey:   cfg.Speech.SecretKey,
		ASRLanguage: cfg.Speech.ASRLanguage,
		TTSVoice:    cfg.Speech.TTSVoice,
		TTSSpeed:    cfg.Speech.TTSSpeed,
		TTSVolume:   cfg.Speech.TTSVolume,
		TTSLanguage: cfg.Speech.TTSLanguage,
		Timeout:     cfg.Speech.Timeout,
	}, logger)
	if !svc.Enabled() {
		logger.Fatalf(ctx, "语音服务未启用，请先在环境变量中配置 SPEECH_* 凭证")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	switch *mode {
	case "asr":
		runASR(ctx, svc, logger, sessionID, *audioPath, *format)
	case "tts":
		runTTS(ctx, svc, logger, sessionID, *text, *voice, *outputPath)
	default:
		flag.Usage()
		logger.Fatalf(ctx, "请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}
}

func runASR(ctx context.Context, svc *speech.Service, logger log.Logger, sessionID, audioPath, format string) {
	if audioPath == "" {
		logger.Fatalf(ctx, "ASR 模式需要通过 -audio 指定音频文件路径")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		logger.Fatalf(ctx, "读取音频文件失败: %v", err)
	}

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
		if format == "" {
			format = "wav"
		}
	}

	logger.Infof(ctx, "开始进行 ASR 测试: session=%s format=%s bytes=%d", sessionID, format, len(audio))

	start := time.Now()
	tr, err := svc.Transcribe(ctx, sessionID, audio, format, func(interim speechmodel.Transcript) {
		logger.Debugf(ctx, "interim: %q", interim.Text)
	})
	if err != nil {
		logger.Fatalf(ctx, "ASR 调用失败: %v", err)
	}
	if tr.Text == "" {
		logger.Warn(ctx, "未检测到语音")
		return
	}

	logger.Infof(ctx, "ASR 识别成功: text=%q elapsed=%s", tr.Text, time.Since(start))
}

func runTTS(ctx context.Context, svc *speech.Service, logger log.Logger, sessionID, text, voice, outputPath string) {
	if strings.TrimSpace(text) == "" {
		logger.Fatalf(ctx, "TTS 模式需要通过 -text 提供待合成文本")
	}

	req := speech.ReplyRequest(sessionID, voice, text)
	logger.Infof(ctx, "开始进行 TTS 测试: session=%s voice=%s", sessionID, req.Voice)

	resp, err := svc.Synthesize(ctx, req)
	if err != nil {
		logger.Fatalf(ctx, "TTS 调用失败: %v", err)
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), resp.Format)
	}
	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		logger.Fatalf(ctx, "写入音频文件失败: %v", err)
	}

	logger.Infof(ctx, "TTS 合成成功: 输出文件 %s (%d bytes)", outputPath, len(resp.AudioData))
}
