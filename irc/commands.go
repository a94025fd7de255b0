package irc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stylebird/http/request"
	images "stylebird/image"
	"stylebird/logger"
	"stylebird/scheduler"
	"stylebird/settings"
)

// maxDownloadBytes caps user-supplied image downloads.
const maxDownloadBytes = 10 * 1024 * 1024

const transferUsage = `Usage: transfer --style=URL --content=URL [--guidance=N --conditioning=N --steps=N --ipadapter=N]`

type command struct {
	action  string
	message string
	args    map[string]string
}

// parseCommand splits a trigger-prefixed message into action, free-form
// message and --key=value arguments.
func parseCommand(trigger, raw string) (command, bool) {
	if trigger == "" || !strings.HasPrefix(raw, trigger) {
		return command{}, false
	}

	rest := strings.TrimSpace(strings.TrimPrefix(raw, trigger))
	if rest == "" {
		return command{}, false
	}

	parts := strings.SplitN(rest, " ", 2)
	cmd := command{action: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.args, cmd.message = parseArgs(strings.TrimSpace(parts[1]))
	} else {
		cmd.args = make(map[string]string)
	}
	return cmd, true
}

// parseArgs extracts --key=value, --key="a quoted value" and boolean --flag
// arguments. Everything that is not an argument is returned as the leftover
// message.
func parseArgs(message string) (map[string]string, string) {
	args := make(map[string]string)
	words := strings.Fields(message)
	var rest []string

	i := 0
	for i < len(words) {
		word := words[i]
		if !strings.HasPrefix(word, "--") {
			rest = append(rest, word)
			i++
			continue
		}

		parts := strings.SplitN(word[2:], "=", 2)
		key := parts[0]
		if len(parts) == 1 {
			args[key] = "true"
			i++
			continue
		}

		value := parts[1]
		if strings.HasPrefix(value, `"`) && !strings.HasSuffix(value, `"`) && len(value) > 1 {
			// Quoted value spanning words.
			valueParts := []string{value[1:]}
			i++
			for i < len(words) {
				part := words[i]
				if strings.HasSuffix(part, `"`) {
					valueParts = append(valueParts, part[:len(part)-1])
					break
				}
				valueParts = append(valueParts, part)
				i++
			}
			args[key] = strings.Join(valueParts, " ")
			i++
			continue
		}

		args[key] = trimQuotes(value)
		i++
	}

	return args, strings.Join(rest, " ")
}

func (b *Bot) handleTransfer(nick string, cmd command) {
	styleURL := cmd.args["style"]
	contentURL := cmd.args["content"]
	if styleURL == "" || contentURL == "" {
		b.reply(nick, transferUsage)
		return
	}

	params := b.resolveParams(nick, cmd.args)

	styleRef, err := b.fetchToStore(styleURL)
	if err != nil {
		b.reply(nick, "Style image: "+err.Error())
		return
	}
	contentRef, err := b.fetchToStore(contentURL)
	if err != nil {
		b.discard(styleRef)
		b.reply(nick, "Content image: "+err.Error())
		return
	}

	if _, err := b.sched.Submit(nick, styleRef, contentRef, params); err != nil {
		b.discard(styleRef)
		b.discard(contentRef)
		b.reply(nick, err.Error())
	}
}

func (b *Bot) handleCancel(nick string) {
	if err := b.sched.Cancel(nick); err != nil {
		b.reply(nick, err.Error())
	}
}

func (b *Bot) handleQueue(nick string) {
	stats := b.sched.Stats()
	jobs := b.sched.Snapshot()
	avg := time.Duration(b.cfg.Scheduler.AverageJobSeconds) * time.Second
	for _, line := range renderQueue(stats, jobs, avg) {
		b.reply(nick, line)
	}
}

func (b *Bot) handleSettings(nick string, cmd command) {
	if len(cmd.args) == 0 {
		params := b.resolveParams(nick, nil)
		b.reply(nick, "Your settings: "+params.String())
		return
	}

	params := b.resolveParams(nick, cmd.args)
	if err := b.store.PutJSON(prefsKey(nick), params); err != nil {
		logger.Error("Failed to save settings", "nick", nick, "error", err)
		b.reply(nick, "Failed to save settings, try again later.")
		return
	}
	b.reply(nick, "Settings saved: "+params.String())
}

func (b *Bot) handleHelp(nick string) {
	t := b.cfg.Irc.Trigger
	b.reply(nick, fmt.Sprintf(
		"Commands: %stransfer --style=URL --content=URL | %scancel | %squeue | %ssettings [--guidance=N --conditioning=N --steps=N --ipadapter=N] | %shelp",
		t, t, t, t, t))
}

// fetchToStore validates and downloads a user-supplied image URL and parks
// the bytes in the store until the job consumes them.
func (b *Bot) fetchToStore(url string) (string, error) {
	if err := request.Preflight(url); err != nil {
		return "", err
	}
	data, err := request.Fetch(url, maxDownloadBytes)
	if err != nil {
		return "", err
	}
	if !images.IsSupported(data) {
		return "", errors.New("unsupported image format, use png, jpeg or gif")
	}
	return b.store.PutImageExpireHours(data, b.cfg.Store.UploadExpiryHours)
}

func (b *Bot) discard(ref string) {
	if err := b.store.Delete(ref); err != nil {
		logger.Error("Failed to discard image", "ref", ref, "error", err)
	}
}

// resolveParams layers the generation knobs: configured defaults, then the
// client's saved settings, then per-command overrides. Every value is pinned
// to its configured range.
func (b *Bot) resolveParams(nick string, args map[string]string) scheduler.GenerationParams {
	bounds := b.cfg.Params
	params := scheduler.GenerationParams{
		GuidanceScale:     bounds.Guidance.Default,
		ConditioningScale: bounds.Conditioning.Default,
		InferenceSteps:    int(bounds.Steps.Default),
		IPAdapterScale:    bounds.IpAdapter.Default,
	}

	var saved scheduler.GenerationParams
	if err := b.store.GetJSON(prefsKey(nick), &saved); err == nil {
		params = saved
	}

	if v, ok := parseFloatArg(args, "guidance"); ok {
		params.GuidanceScale = v
	}
	if v, ok := parseFloatArg(args, "conditioning"); ok {
		params.ConditioningScale = v
	}
	if v, ok := parseFloatArg(args, "steps"); ok {
		params.InferenceSteps = int(v)
	}
	if v, ok := parseFloatArg(args, "ipadapter"); ok {
		params.IPAdapterScale = v
	}

	return clampParams(bounds, params)
}

func parseFloatArg(args map[string]string, key string) (float64, bool) {
	raw, ok := args[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func clampParams(bounds settings.ParamsConfig, params scheduler.GenerationParams) scheduler.GenerationParams {
	params.GuidanceScale = bounds.Guidance.Clamp(params.GuidanceScale)
	params.ConditioningScale = bounds.Conditioning.Clamp(params.ConditioningScale)
	params.InferenceSteps = int(bounds.Steps.Clamp(float64(params.InferenceSteps)))
	params.IPAdapterScale = bounds.IpAdapter.Clamp(params.IPAdapterScale)
	return params
}

func prefsKey(nick string) string {
	return "prefs:" + nick
}

// renderQueue formats the queue state as chat lines, capped so a busy queue
// cannot flood the channel.
func renderQueue(stats scheduler.Stats, jobs []scheduler.Job, avg time.Duration) []string {
	if stats.QueueLength == 0 && stats.InFlightClient == "" {
		return []string{"The queue is empty."}
	}

	var lines []string
	if stats.InFlightClient != "" {
		lines = append(lines, fmt.Sprintf("Now processing %s's job (running %s).",
			stats.InFlightClient, scheduler.HumanDuration(stats.InFlightElapsed)))
	}
	lines = append(lines, fmt.Sprintf("%d job(s) waiting.", stats.QueueLength))

	const maxListed = 5
	for i, job := range jobs {
		if i >= maxListed {
			lines = append(lines, fmt.Sprintf("... and %d more.", len(jobs)-maxListed))
			break
		}
		lines = append(lines, fmt.Sprintf("#%d %s (estimated wait %s)",
			job.Position, job.ClientID, scheduler.HumanDuration(scheduler.Estimate(job.Position, avg))))
	}
	return lines
}
