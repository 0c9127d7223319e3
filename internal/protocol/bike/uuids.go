package bike

// 设备 GATT UUID（无连字符小写，与扫描结果比较前统一格式）
const (
	ServiceS1UUID        = "49535343fe7d4ae58fa99fafd205e455"
	CharCommandInputUUID = "49535343884143f4a8d4ecbe34729bb3"
	CharDataOutputUUID   = "495353431e4d4bd9ba6123c647249616"
	CharS1MysteryUUID    = "495353434c8a39b32f49511cff073b7e"
	ServiceS2UUID        = "495353435d82609993487aac4d5fbc51"
	CharS2MysteryUUID    = "49535343026e3a9b954c97daef17e26e"
)
