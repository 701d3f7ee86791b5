package handlers

import (
	"fmt"
	"log"
	"net/url"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"github.com/PavloPoliakov/DonationRaffleBot/internal/models"
	"github.com/PavloPoliakov/DonationRaffleBot/internal/repository"
	"github.com/PavloPoliakov/DonationRaffleBot/internal/schedule"
	"github.com/PavloPoliakov/DonationRaffleBot/internal/service"
)

type BotHandler struct {
	bot    *tgbotapi.BotAPI
	repo   *repository.Repository
	raffle *service.Service
}

func NewBotHandler(bot *tgbotapi.BotAPI, repo *repository.Repository, raffle *service.Service) *BotHandler {
	return &BotHandler{
		bot:    bot,
		repo:   repo,
		raffle: raffle,
	}
}

// TelegramSender adapts the bot API to the raffle service's outbound
// transport.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramSender(bot *tgbotapi.BotAPI) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(chatID int64, text string) error {
	_, err := s.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// Commands is the command list registered with Telegram on startup.
func Commands() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{Command: "start", Description: "Як користуватися"},
		{Command: "register", Description: "Зареєструватися"},
		{Command: "eject", Description: "Видалити себе"},
		{Command: "list", Description: "Показати зареєстрованих"},
		{Command: "configure", Description: "Налаштувати банку, тригери, автореєстрацію"},
		{Command: "raffle", Description: "Запустити розіграш"},
		{Command: "cancel", Description: "Скасувати активний розіграш"},
		{Command: "stats", Description: "Топ переможців"},
		{Command: "info", Description: "Про бота"},
		{Command: "help", Description: "Показати довідку"},
	}
}

var commandHelp = strings.Join([]string{
	"*Основне*",
	"/register — Зареєструватися",
	"/eject — Видалити себе",
	"/list — Показати зареєстрованих",
	"/raffle — Запустити розіграш",
	"/cancel — Скасувати активний розіграш",
	"/stats — Топ переможців",
	"/info — Про бота",
	"/help — Показати довідку",
	"/help schedule — Довідка по розкладу",
	"",
	"*Налаштування (/configure, лише адміністратор)*",
	"/configure `https://...` — Банка для групи",
	"/configure `<мін>` `<макс>` — Ліміти донату",
	"/configure auto-register `on|off` — Автореєстрація",
	"/configure schedule ... — Розклад розіграшів",
	"/configure trigger — Список тригерів",
	"/configure trigger + `<слово>` — Додати тригер",
	"/configure trigger - `<слово>` — Видалити тригер",
}, "\n")

func (h *BotHandler) HandleUpdate(update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	h.handleMessage(update.Message)
}

func (h *BotHandler) handleMessage(message *tgbotapi.Message) {
	if message.IsCommand() {
		log.Printf("Update: chat=%d type=%s from=%d text=%q",
			message.Chat.ID, message.Chat.Type, message.From.ID, message.Text)
	}

	if len(message.NewChatMembers) > 0 {
		h.handleNewChatMembers(message)
		return
	}

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			h.handleStart(message)
		case "help":
			h.handleHelp(message)
		case "info":
			h.handleInfo(message)
		case "register":
			h.handleRegister(message)
		case "eject":
			h.handleEject(message)
		case "list":
			h.handleList(message)
		case "stats":
			h.handleStats(message)
		case "raffle":
			h.handleRaffle(message)
		case "cancel":
			h.handleCancel(message)
		case "configure":
			h.handleConfigure(message)
		}
		return
	}

	h.handlePlainMessage(message)
}

func (h *BotHandler) reply(chatID int64, text string) {
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("Error sending message to chat %d: %v", chatID, err)
	}
}

func (h *BotHandler) replyMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := h.bot.Send(msg); err != nil {
		log.Printf("Error sending message to chat %d: %v", chatID, err)
	}
}

func displayName(from *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(from.FirstName) + " " + strings.TrimSpace(from.LastName))
	if name != "" {
		return name
	}
	if from.UserName != "" {
		return from.UserName
	}
	return "Користувач"
}

func formatUserLine(from *tgbotapi.User) string {
	name := displayName(from)
	if from.UserName != "" {
		return fmt.Sprintf("%s (@%s)", name, from.UserName)
	}
	return name
}

// ensureUser upserts a registration, preserving accumulated stats and
// clearing any previous opt-out.
func (h *BotHandler) ensureUser(chatID int64, from *tgbotapi.User) (models.User, error) {
	existing, err := h.repo.GetUser(chatID, from.ID)
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:       from.ID,
		Name:     displayName(from),
		Username: from.UserName,
	}
	if existing != nil {
		user.Wins = existing.Wins
		user.Donated = existing.Donated
	}
	if err := h.repo.UpsertUser(chatID, user); err != nil {
		return models.User{}, err
	}
	if err := h.repo.ClearOptOut(chatID, from.ID); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (h *BotHandler) handleNewChatMembers(message *tgbotapi.Message) {
	if !models.IsGroupChat(message.Chat.Type) {
		return
	}
	joined := lo.ContainsBy(message.NewChatMembers, func(member tgbotapi.User) bool {
		return member.ID == h.bot.Self.ID
	})
	if !joined {
		return
	}
	botName := ""
	if h.bot.Self.UserName != "" {
		botName = " @" + h.bot.Self.UserName
	}
	h.reply(message.Chat.ID, fmt.Sprintf(
		"Привіт!\n\nДякую, що додали мене. Я%s — Telegram-бот, що допомагає донатити регулярно.\nЩоб дізнатися більше, викличіть /info.",
		botName,
	))
}

func (h *BotHandler) handleStart(message *tgbotapi.Message) {
	h.replyMarkdown(message.Chat.ID,
		"Привіт! Я @DonationRaffleBot 🎲\n\n1️⃣ Додайте мене в групу.\n2️⃣ Адмін налаштовує банку: /configure `https://...`\n3️⃣ За потреби задайте ліміти: /configure `<мін>` `<макс>`\n4️⃣ Учасники реєструються /register (або пишуть у чат, якщо ввімкнена автореєстрація).\n\nДалі запускайте /raffle або налаштуйте розклад. Маленькі донати регулярно — і разом. 🇺🇦")
}

func (h *BotHandler) handleInfo(message *tgbotapi.Message) {
	h.replyMarkdown(message.Chat.ID,
		"Привіт! Я @DonationRaffleBot 🎲\n\nЯ тут, щоб робити донати було трішки веселіше 🎉.\n\n1️⃣ *Спочатку реєстрація*.\nУчасники можуть зареєструватися командою /register або просто написати будь-що в чат, і я автоматично додам їх до списку.\nЯкщо не хочеш брати участь, завжди можна вийти командою /eject.\n\n2️⃣ *Потім гра*.\nКоли хтось пише /raffle, починається магія ✨\nЯ випадково обираю одного учасника, якому випадає\n💸 задонатити від 10 до 100 грн на банку для допомоги ЗСУ.\n\n🎯 Все прозоро, випадково і без зайвого пафосу\n🇺🇦 Маленькі донати, але регулярно і разом\n\nГотові?\n👉 /register і нехай вирішує доля 😉")
}

func (h *BotHandler) handleHelp(message *tgbotapi.Message) {
	args := strings.Fields(message.CommandArguments())
	if len(args) > 0 && args[0] == "schedule" {
		h.replyMarkdown(message.Chat.ID, schedule.Help)
		return
	}
	h.replyMarkdown(message.Chat.ID, commandHelp)
}

func (h *BotHandler) handleRegister(message *tgbotapi.Message) {
	from := message.From
	if from == nil {
		h.reply(message.Chat.ID, "Потрібен користувач. Використайте /register у приватному або груповому чаті. 👤")
		return
	}
	if from.IsBot {
		h.reply(message.Chat.ID, "Боти не можуть реєструватися. 🤖")
		return
	}
	chatID := message.Chat.ID

	users, err := h.repo.GetUsers(chatID)
	if err != nil {
		log.Printf("Error listing users for chat %d: %v", chatID, err)
		return
	}
	registered := lo.ContainsBy(users, func(user models.User) bool {
		return user.ID == from.ID
	})
	if registered {
		h.reply(chatID, "Ви вже зареєстровані. ✅")
		return
	}

	if _, err := h.ensureUser(chatID, from); err != nil {
		log.Printf("Error registering user %d in chat %d: %v", from.ID, chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Зареєстровано: %s. ✅", formatUserLine(from)))
}

func (h *BotHandler) handleEject(message *tgbotapi.Message) {
	from := message.From
	if from == nil {
		return
	}
	chatID := message.Chat.ID

	removed, err := h.repo.RemoveUser(chatID, from.ID)
	if err != nil {
		log.Printf("Error removing user %d from chat %d: %v", from.ID, chatID, err)
		return
	}
	if !removed {
		h.reply(chatID, "Ви не зареєстровані. ℹ️")
		return
	}
	h.reply(chatID, "Вас видалено зі списку. 🧹")
}

func (h *BotHandler) handleList(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	users, err := h.repo.GetUsers(chatID)
	if err != nil {
		log.Printf("Error listing users for chat %d: %v", chatID, err)
		return
	}
	if len(users) == 0 {
		h.reply(chatID, "Поки немає зареєстрованих користувачів. 📭")
		return
	}

	lines := make([]string, len(users))
	for i, user := range users {
		lines[i] = fmt.Sprintf("%d. %s", i+1, service.FormatUserLine(user))
	}
	h.reply(chatID, fmt.Sprintf("Зареєстровані користувачі (%d):\n%s", len(users), strings.Join(lines, "\n")))
}

func (h *BotHandler) handleStats(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	users, err := h.repo.GetUsers(chatID)
	if err != nil {
		log.Printf("Error listing users for chat %d: %v", chatID, err)
		return
	}
	h.reply(chatID, buildStatsMessage(users))
}

func buildStatsMessage(users []models.User) string {
	ranked := lo.Filter(users, func(user models.User, _ int) bool {
		return user.Wins > 0
	})
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Wins != ranked[j].Wins {
			return ranked[i].Wins > ranked[j].Wins
		}
		return ranked[i].Donated > ranked[j].Donated
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}

	if len(ranked) == 0 {
		return "Ще немає переможців."
	}

	lines := make([]string, len(ranked))
	for i, user := range ranked {
		lines[i] = fmt.Sprintf("%d. %s — %d / %d грн", i+1, service.FormatUserLine(user), user.Wins, user.Donated)
	}
	totalDonated := lo.SumBy(users, func(user models.User) int {
		return user.Donated
	})
	return fmt.Sprintf("Топ переможців:\n%s\n\nВсього донатів: %d грн 💛", strings.Join(lines, "\n"), totalDonated)
}

func (h *BotHandler) handleRaffle(message *tgbotapi.Message) {
	if _, err := h.raffle.StartRaffle(message.Chat.ID, service.StartOptions{
		ChatType: message.Chat.Type,
	}); err != nil {
		log.Printf("Error starting raffle in chat %d: %v", message.Chat.ID, err)
	}
}

func (h *BotHandler) handleCancel(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if !h.raffle.Cancel(chatID) {
		h.reply(chatID, "Зараз немає активного розіграшу. ℹ️")
		return
	}
	h.reply(chatID, "Розіграш скасовано. 🛑")
}

const configureUsage = "Використайте /configure `https://...`, /configure `<мін>` `<макс>`, /configure auto-register `on|off`, /configure schedule ... або /configure trigger + `<слово>`."

func (h *BotHandler) handleConfigure(message *tgbotapi.Message) {
	if !models.IsGroupChat(message.Chat.Type) {
		h.reply(message.Chat.ID, "Використайте /configure у груповому чаті.")
		return
	}
	requester := message.From
	if requester == nil {
		return
	}
	chatID := message.Chat.ID

	member, err := h.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatID,
			UserID: requester.ID,
		},
	})
	if err != nil {
		log.Printf("Error checking admin status in chat %d: %v", chatID, err)
		return
	}
	if member.Status != "administrator" && member.Status != "creator" {
		h.reply(chatID, "Налаштовувати може лише адміністратор групи.")
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		h.replyMarkdown(chatID, configureUsage)
		return
	}

	switch {
	case args[0] == "auto-register":
		h.configureAutoRegister(chatID, args)
	case args[0] == "schedule":
		h.configureSchedule(chatID, strings.TrimSpace(strings.Join(args[1:], " ")))
	case args[0] == "trigger":
		h.configureTrigger(chatID, args)
	case len(args) == 2 && isNumeric(args[0]) && isNumeric(args[1]):
		h.configureLimits(chatID, args[0], args[1])
	case len(args) == 1:
		h.configureJarURL(chatID, args[0])
	default:
		h.replyMarkdown(chatID, configureUsage)
	}
}

func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (h *BotHandler) configureAutoRegister(chatID int64, args []string) {
	if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
		enabled, err := h.repo.GetAutoRegister(chatID)
		if err != nil {
			log.Printf("Error reading auto-register for chat %d: %v", chatID, err)
			return
		}
		status := "вимкнено"
		if enabled {
			status = "увімкнено"
		}
		h.replyMarkdown(chatID, fmt.Sprintf("Поточний стан: %s. Використайте /configure auto-register `on|off`.", status))
		return
	}
	enabled := args[1] == "on"
	if err := h.repo.SetAutoRegister(chatID, enabled); err != nil {
		log.Printf("Error setting auto-register for chat %d: %v", chatID, err)
		return
	}
	if enabled {
		h.reply(chatID, "Автореєстрацію увімкнено.")
	} else {
		h.reply(chatID, "Автореєстрацію вимкнено.")
	}
}

func (h *BotHandler) configureSchedule(chatID int64, input string) {
	if input == "" {
		current, err := h.repo.GetSchedule(chatID)
		if err != nil {
			log.Printf("Error reading schedule for chat %d: %v", chatID, err)
			return
		}
		formatted := "(не налаштовано)"
		if current != "" {
			formatted = "`" + current + "`"
		}
		h.replyMarkdown(chatID, fmt.Sprintf("Поточний розклад: %s.\nВикористайте /help schedule для формату.", formatted))
		return
	}

	spec, ok := schedule.Parse(input)
	if !ok {
		h.replyMarkdown(chatID, schedule.Help)
		return
	}
	if spec.Kind == schedule.Off {
		if err := h.repo.SetSchedule(chatID, ""); err != nil {
			log.Printf("Error clearing schedule for chat %d: %v", chatID, err)
			return
		}
		h.reply(chatID, "Розклад вимкнено.")
		return
	}

	normalized := schedule.Format(spec)
	if err := h.repo.SetSchedule(chatID, normalized); err != nil {
		log.Printf("Error saving schedule for chat %d: %v", chatID, err)
		return
	}
	timezone, err := h.repo.GetScheduleTimezone(chatID)
	if err != nil {
		log.Printf("Error reading timezone for chat %d: %v", chatID, err)
		return
	}
	if timezone == "" {
		if err := h.repo.SetScheduleTimezone(chatID, schedule.TimezoneDefault); err != nil {
			log.Printf("Error saving timezone for chat %d: %v", chatID, err)
			return
		}
	}
	h.replyMarkdown(chatID, fmt.Sprintf("Розклад збережено: `%s`.", normalized))
}

func (h *BotHandler) configureTrigger(chatID int64, args []string) {
	if len(args) == 1 {
		triggers, err := h.repo.GetTriggerWords(chatID)
		if err != nil {
			log.Printf("Error listing triggers for chat %d: %v", chatID, err)
			return
		}
		if len(triggers) == 0 {
			h.replyMarkdown(chatID, "Поки немає тригерів. Додайте: /configure trigger + `<слово>`.")
			return
		}
		formatted := strings.Join(lo.Map(triggers, func(trigger string, _ int) string {
			return "`" + trigger + "`"
		}), ", ")
		h.replyMarkdown(chatID, fmt.Sprintf("Тригери (%d): %s", len(triggers), formatted))
		return
	}

	action := args[1]
	word := strings.TrimSpace(strings.Join(args[2:], " "))
	if (action != "+" && action != "-") || word == "" {
		h.replyMarkdown(chatID, "Використайте /configure trigger + `<слово>` або /configure trigger - `<слово>`.")
		return
	}

	if action == "+" {
		added, err := h.repo.AddTriggerWord(chatID, word)
		if err != nil {
			log.Printf("Error adding trigger for chat %d: %v", chatID, err)
			return
		}
		if !added {
			h.reply(chatID, "Тригер вже існує: "+word)
			return
		}
		h.reply(chatID, "Тригер додано: "+word)
		return
	}

	removed, err := h.repo.RemoveTriggerWord(chatID, word)
	if err != nil {
		log.Printf("Error removing trigger for chat %d: %v", chatID, err)
		return
	}
	if !removed {
		h.reply(chatID, "Тригера немає: "+word)
		return
	}
	h.reply(chatID, "Тригер видалено: "+word)
}

func (h *BotHandler) configureLimits(chatID int64, minArg, maxArg string) {
	min, _ := strconv.Atoi(minArg)
	max, _ := strconv.Atoi(maxArg)
	if min <= 0 || max <= 0 || min > max {
		h.reply(chatID, "Ліміти мають бути додатніми числами, де мін не більший за макс.")
		return
	}
	if err := h.repo.SetDonationLimits(chatID, min, max); err != nil {
		log.Printf("Error setting donation limits for chat %d: %v", chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Ліміти донату оновлено: від %d до %d грн.", min, max))
}

func (h *BotHandler) configureJarURL(chatID int64, jarURL string) {
	parsed, err := url.ParseRequestURI(jarURL)
	if err != nil || parsed.Host == "" {
		h.replyMarkdown(chatID, "Невірне посилання. Використайте /configure `https://...`")
		return
	}
	if err := h.repo.SetJarURL(chatID, jarURL); err != nil {
		log.Printf("Error setting jar URL for chat %d: %v", chatID, err)
		return
	}
	h.reply(chatID, "Посилання на банку збережено: "+jarURL)
}

// handlePlainMessage scans group messages for trigger words and handles
// auto-registration of new posters.
func (h *BotHandler) handlePlainMessage(message *tgbotapi.Message) {
	if !models.IsGroupChat(message.Chat.Type) {
		return
	}
	from := message.From
	if from == nil || from.IsBot {
		return
	}
	text := strings.TrimSpace(message.Text)
	if strings.HasPrefix(text, "/") {
		return
	}
	chatID := message.Chat.ID

	if text != "" {
		words, err := h.repo.GetTriggerWords(chatID)
		if err != nil {
			log.Printf("Error listing triggers for chat %d: %v", chatID, err)
			return
		}
		normalized := strings.ToLower(text)
		matched, found := lo.Find(words, func(word string) bool {
			return strings.Contains(normalized, word)
		})
		if found {
			if _, err := h.raffle.StartRaffle(chatID, service.StartOptions{
				ChatType:        message.Chat.Type,
				EnforceCooldown: true,
				Silent:          true,
				TriggerWord:     matched,
			}); err != nil {
				log.Printf("Error starting triggered raffle in chat %d: %v", chatID, err)
			}
		}
	}

	autoRegister, err := h.repo.GetAutoRegister(chatID)
	if err != nil {
		log.Printf("Error reading auto-register for chat %d: %v", chatID, err)
		return
	}
	if !autoRegister {
		return
	}
	optedOut, err := h.repo.IsOptedOut(chatID, from.ID)
	if err != nil {
		log.Printf("Error checking opt-out for chat %d: %v", chatID, err)
		return
	}
	if optedOut {
		return
	}
	users, err := h.repo.GetUsers(chatID)
	if err != nil {
		log.Printf("Error listing users for chat %d: %v", chatID, err)
		return
	}
	registered := lo.ContainsBy(users, func(user models.User) bool {
		return user.ID == from.ID
	})
	if registered {
		return
	}

	if _, err := h.ensureUser(chatID, from); err != nil {
		log.Printf("Error auto-registering user %d in chat %d: %v", from.ID, chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Додано до списку: %s. Якщо не хочеш брати участь — /eject.", formatUserLine(from)))
}
