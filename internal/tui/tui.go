package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/storage"
	"github.com/betbot/p2pbuy/internal/trade"
	"github.com/betbot/p2pbuy/pkg/logger"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	settledStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")) // 绿色

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	waitStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")) // 黄色

	selectedStyle = lipgloss.NewStyle().
			Reverse(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238"))
)

type tickMsg time.Time

type eventMsg trade.Event

type storeClosedMsg struct{}

// Options 监视界面参数
type Options struct {
	Badges *storage.Badges  // 为空时不显示未读标记
	Tick   time.Duration    // 倒计时刷新间隔
	Now    func() time.Time // 测试用
}

// Model 交易监视界面：每个 tick 刷新倒计时并扫描本地过期，存储变更时立即重绘
type Model struct {
	flow   *trade.Flow
	opts   Options
	events <-chan trade.Event
	cancel func()

	views    []trade.View
	unseen   map[string]bool
	selected int
	status   string
}

// New 订阅存储变更；调用方负责运行 tea.Program
func New(flow *trade.Flow, opts Options) *Model {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	events, cancel := flow.Store.Subscribe(64)
	m := &Model{
		flow:   flow,
		opts:   opts,
		events: events,
		cancel: cancel,
		unseen: make(map[string]bool),
	}
	m.refresh()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(m.opts.Tick),
		waitEvent(m.events),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.views)-1 {
				m.selected++
			}
		case "r":
			m.retrySelected()
		case "s":
			m.markSeen()
		}
		return m, nil

	case tickMsg:
		m.flow.SweepExpired(m.opts.Now())
		m.refresh()
		return m, tickCmd(m.opts.Tick)

	case eventMsg:
		m.refresh()
		return m, waitEvent(m.events)

	case storeClosedMsg:
		m.status = "会话已结束"
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("P2P 买单监视"))
	s.WriteString("  ")
	s.WriteString(dimStyle.Render(m.opts.Now().Format("15:04:05")))
	s.WriteString("\n\n")

	if len(m.views) == 0 {
		s.WriteString("暂无交易\n")
	} else {
		s.WriteString(titleStyle.Render(fmt.Sprintf("%-2s %-14s %-18s %-16s %-16s %-7s %s",
			"", "交易", "数量", "服务端", "本地", "剩余", "说明")))
		s.WriteString("\n")
		for i, v := range m.views {
			line := m.row(v)
			if i == m.selected {
				line = selectedStyle.Render(line)
			}
			s.WriteString(line)
			s.WriteString("\n")
		}
	}

	s.WriteString("\n")
	if m.status != "" {
		s.WriteString(m.status)
		s.WriteString("\n")
	}
	s.WriteString(dimStyle.Render("↑/↓ 选择  r 重试  s 标记已读  q 退出"))
	return borderStyle.Render(s.String())
}

func (m *Model) row(v trade.View) string {
	badge := " "
	if m.unseen[v.TradeID] {
		badge = "●"
	}
	amount := v.TokenAmount
	if v.TokenDisplay != "" {
		amount = v.TokenDisplay + " " + v.TokenSymbol
	}
	countdown := "--:--"
	if v.CanUpload || v.Flow == string(domain.FlowPending) {
		countdown = formatCountdown(v.RemainingSeconds)
	}
	note := ""
	if v.Failure != nil {
		note = v.Failure.MessageKey
	} else if v.CanUpload {
		note = "待上传凭证"
	} else if v.Polling {
		note = "等待结算"
	}
	line := fmt.Sprintf("%-2s %-14s %-18s %-16s %-16s %-7s %s",
		badge, shortID(v.TradeID), amount, v.ServerStatus, v.Flow, countdown, note)
	return flowStyle(v.Flow).Render(line)
}

func (m *Model) refresh() {
	m.views = m.flow.Views(m.opts.Now())
	if m.selected >= len(m.views) {
		m.selected = max(len(m.views)-1, 0)
	}
	if m.opts.Badges == nil {
		return
	}
	var settled []string
	for _, v := range m.views {
		if v.Flow == string(domain.FlowSettled) {
			settled = append(settled, v.TradeID)
		}
	}
	unseen, err := m.opts.Badges.Unseen(settled)
	if err != nil {
		logger.Component("tui").WithError(err).Warn("badge lookup failed")
		return
	}
	m.unseen = make(map[string]bool, len(unseen))
	for _, id := range unseen {
		m.unseen[id] = true
	}
}

func (m *Model) current() (trade.View, bool) {
	if m.selected < 0 || m.selected >= len(m.views) {
		return trade.View{}, false
	}
	return m.views[m.selected], true
}

func (m *Model) retrySelected() {
	v, ok := m.current()
	if !ok {
		return
	}
	switch err := m.flow.Retry(v.TradeID); {
	case errors.Is(err, trade.ErrRetryNotAllowed):
		m.status = failedStyle.Render("无法重试: " + shortID(v.TradeID))
	case err != nil:
		m.status = failedStyle.Render(err.Error())
	default:
		m.status = "已重置为待上传: " + shortID(v.TradeID)
	}
	m.refresh()
}

func (m *Model) markSeen() {
	v, ok := m.current()
	if !ok || m.opts.Badges == nil || !m.unseen[v.TradeID] {
		return
	}
	if err := m.opts.Badges.MarkSeen(v.TradeID); err != nil {
		m.status = failedStyle.Render(err.Error())
		return
	}
	delete(m.unseen, v.TradeID)
}

// Run 全屏运行直到用户退出或 ctx 结束
func Run(ctx context.Context, flow *trade.Flow, opts Options) error {
	m := New(flow, opts)
	defer m.cancel()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitEvent(ch <-chan trade.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return storeClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func flowStyle(flow string) lipgloss.Style {
	switch domain.FlowStatus(flow) {
	case domain.FlowSettled:
		return settledStyle
	case domain.FlowProofFailed, domain.FlowInvalid, domain.FlowExpired:
		return failedStyle
	case domain.FlowGeneratingProof, domain.FlowValidating:
		return waitStyle
	}
	return lipgloss.NewStyle()
}

func formatCountdown(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:10] + ".."
}
