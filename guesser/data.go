package guesser

// Regions are the known distribution region codes.
var Regions = []string{
	"br", "cn", "eun", "eune", "euw", "garena2", "garena3", "id", "jp",
	"kr", "la", "la1", "la2", "lan", "las", "na", "oc", "oc1", "oce",
	"pbe", "ph", "ru", "sg", "tencent", "th", "tr", "tw", "vn",
}

// Languages are the known locale codes.
var Languages = []string{
	"ar_ae", "ar_eg", "cs_cz", "de_de", "el_gr", "en_au", "en_gb",
	"en_ph", "en_pl", "en_sg", "en_us", "es_ar", "es_es", "es_mx",
	"fr_fr", "hu_hu", "id_id", "it_it", "ja_jp", "ko_kr", "ms_my",
	"pl_pl", "pt_br", "ro_ro", "ru_ru", "th_th", "tr_tr", "vi_vn",
	"vn_vn", "zh_cn", "zh_my", "zh_tw",
}
