package card

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// Patterns shared by scoring, extraction and validation.
var (
	EmailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	PhoneLabelPattern = regexp.MustCompile(`^(?:TEL|Tel|tel|電話|☎)`)
	FaxLabelPattern   = regexp.MustCompile(`^(?:FAX|Fax|fax)`)
	PhonePattern      = regexp.MustCompile(`0\d{1,4}[-(\s]?\d{1,4}[-)\s]?\d{4}`)
	MobilePattern     = regexp.MustCompile(`0[789]0[-\s]?\d{4}[-\s]?\d{4}`)
	// LabelledNumberPattern picks the digit run after a TEL/FAX label.
	LabelledNumberPattern = regexp.MustCompile(`[\d\-()（）\s]+`)

	PostalMarkPattern = regexp.MustCompile(`〒\s?(\d{3}[-−‐]?\d{4})`)
	// PostalBarePattern requires a separator and rejects runs glued to other
	// digits, so phone numbers do not read as postal codes.
	PostalBarePattern = regexp.MustCompile(`(?:^|[^\d\-])(\d{3}[-−‐]\d{4})(?:[^\d\-]|$)`)

	URLPattern       = regexp.MustCompile(`https?://[^\s]+|www\.[^\s]+|[a-zA-Z0-9-]+\.(?:com|co\.jp|jp|net|org)[^\s]*`)
	SchemeURLPattern = regexp.MustCompile(`https?://[^\s]+|www\.[^\s]+`)

	// HandlePattern matches @handles that are not the domain half of an e-mail.
	HandlePattern    = regexp.MustCompile(`(?:^|[^a-zA-Z0-9._%+-])(@[a-zA-Z0-9_]+)\b`)
	SocialURLPattern = regexp.MustCompile(`(?:facebook\.com|linkedin\.com|instagram\.com|twitter\.com|x\.com)/[^\s]+`)

	NamePattern          = regexp.MustCompile(`^[\x{4e00}-\x{9faf}]{2,4}(?:\s+[\x{4e00}-\x{9faf}]{1,4})?$`)
	KatakanaOnlyPattern  = regexp.MustCompile(`^[\x{30a0}-\x{30ff}]{5,}$`)
	LeadingDigitsPattern = regexp.MustCompile(`^\d{2,}`)
	AcronymPattern       = regexp.MustCompile(`^[A-Z0-9&.\-]{1,5}$`)
	SymbolPattern        = regexp.MustCompile(`[©®™●■◆★☆♪※→←↑↓]|[\x{1F300}-\x{1FAFF}]`)
)

// CompanyKeywords mark a line as a legal entity name.
var CompanyKeywords = []string{
	"株式会社", "有限会社", "合同会社", "合資会社", "合名会社",
	"一般社団法人", "公益社団法人", "一般財団法人", "公益財団法人",
	"Co.,Ltd.", "Co., Ltd.", "Inc.", "Corp.", "Corporation", "LLC",
}

// PositionKeywords mark a line as a job title.
var PositionKeywords = []string{
	"代表取締役", "取締役", "副社長", "社長", "専務", "常務", "執行役員",
	"部長", "次長", "課長", "係長", "主任", "マネージャー", "リーダー", "チーフ", "ディレクター",
	"CEO", "CTO", "CFO", "COO", "President", "Director", "Manager", "Chief",
}

// DepartmentKeywords mark a line as an organisational unit.
var DepartmentKeywords = []string{
	"本部", "部", "課", "室", "局", "Division", "Department", "Section",
}

// CertificationKeywords appear in logos and badges, never in a person's name.
var CertificationKeywords = []string{
	"ISO", "ISMS", "Pマーク", "プライバシーマーク", "認証", "登録番号", "SDGs",
}

// Prefectures lists all 47 Japanese prefectures.
var Prefectures = []string{
	"北海道", "青森県", "岩手県", "宮城県", "秋田県", "山形県", "福島県",
	"茨城県", "栃木県", "群馬県", "埼玉県", "千葉県", "東京都", "神奈川県",
	"新潟県", "富山県", "石川県", "福井県", "山梨県", "長野県", "岐阜県",
	"静岡県", "愛知県", "三重県", "滋賀県", "京都府", "大阪府", "兵庫県",
	"奈良県", "和歌山県", "鳥取県", "島根県", "岡山県", "広島県", "山口県",
	"徳島県", "香川県", "愛媛県", "高知県", "福岡県", "佐賀県", "長崎県",
	"熊本県", "大分県", "宮崎県", "鹿児島県", "沖縄県",
}

// LegalSuffixes are stripped from company names before provenance checks.
// Entries are lower case and width-folded.
var LegalSuffixes = []string{
	"株式会社", "有限会社", "合同会社", "合資会社", "合名会社",
	"一般社団法人", "公益社団法人", "一般財団法人", "公益財団法人",
	"(株)", "(有)", "co.,ltd.", "co.,ltd", "co.ltd.", "inc.", "inc", "corp.", "corporation", "llc", "ltd.", "ltd",
}

// Fold maps full-width ASCII to narrow and half-width katakana to wide, so OCR
// output in either width compares equal.
func Fold(s string) string {
	return width.Fold.String(s)
}

// ContainsAny reports whether s contains any of the keywords.
func ContainsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// FindPrefecture returns the index of the first prefecture name in s, or -1.
func FindPrefecture(s string) int {
	best := -1
	for _, p := range Prefectures {
		if i := strings.Index(s, p); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// FindPostalCode returns the postal code in s, preferring a 〒-marked one.
func FindPostalCode(s string) string {
	if m := PostalMarkPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := PostalBarePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
