package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"bargain/internal/pkg/bootstrap"
	"bargain/internal/pkg/httpclient"
	"bargain/internal/pkg/logger"
	"bargain/internal/service/bargain/application"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
	"bargain/internal/service/bargain/infrastructure"
	"bargain/internal/service/bargain/infrastructure/adapter"
)

// noRules 在没有规则库时使用，只走类别默认值
type noRules struct{}

func (noRules) FindActiveByCategory(context.Context, domain.Category) ([]domain.MarkupRule, error) {
	return nil, nil
}

// serviceURL 启用 Nacos 时按服务名发现，失败退回静态地址
func serviceURL(ctx context.Context, appCtx bootstrap.AppCtx, rc remoteConfig) string {
	if appCtx.Nacos != nil && rc.ServiceName != "" {
		u, err := appCtx.Nacos.DiscoverServiceInstance(rc.ServiceName)
		if err == nil {
			return u
		}
		logger.Ctx(ctx).Warn().Err(err).Str("service", rc.ServiceName).Str("url", rc.ServiceURL).Msg("service discovery failed, using static url")
	}
	return rc.ServiceURL
}

func buildMarkup(ctx context.Context, appCtx bootstrap.AppCtx, mc markupConfig, db *gorm.DB, conditions port.ConditionEvaluator, client *httpclient.Client) (port.MarkupResolver, error) {
	switch mc.Source {
	case sourceHTTP:
		// httpclient 自己会重试，这里只做一次
		inner := adapter.NewMarkupHTTPAdapter(client, serviceURL(ctx, appCtx, mc.remoteConfig))
		return application.NewResilientMarkupResolver(inner, mc.Fallback, 1), nil
	case sourceRules, "":
		var rules domain.MarkupRuleRepository = noRules{}
		if db != nil {
			rules = infrastructure.NewGormMarkupRuleRepository(db)
		}
		inner := application.NewRuleMarkupResolver(rules, conditions, mc.Defaults)
		return application.NewResilientMarkupResolver(inner, mc.Fallback, mc.Attempts), nil
	default:
		return nil, fmt.Errorf("unknown markup source %q", mc.Source)
	}
}

// buildPromo 返回 nil 时选价跳过优惠码校验
func buildPromo(ctx context.Context, appCtx bootstrap.AppCtx, pc promoConfig, db *gorm.DB, conditions port.ConditionEvaluator, client *httpclient.Client) port.PromoValidator {
	switch pc.Source {
	case sourceHTTP:
		// httpclient 自己会重试，这里只做一次
		inner := adapter.NewPromoHTTPAdapter(client, serviceURL(ctx, appCtx, pc.remoteConfig))
		return application.NewResilientPromoValidator(inner, 1)
	case sourceRules, "":
		if db == nil {
			logger.Ctx(ctx).Warn().Msg("no promo code store configured, promo codes are skipped")
			return nil
		}
		inner := application.NewRepoPromoValidator(infrastructure.NewGormPromoCodeRepository(db), conditions)
		return application.NewResilientPromoValidator(inner, pc.Attempts)
	default:
		return nil
	}
}

// buildSettings 优先读配置中心，读取失败时使用配置文件中的静态表
func buildSettings(ctx context.Context, appCtx bootstrap.AppCtx, sc settingsConfig) port.SettingsProvider {
	var inner port.SettingsProvider = adapter.NewStaticSettingsProvider(sc.Modules, sc.Fallback)
	nc := appCtx.Config.Nacos
	if appCtx.Nacos != nil && nc.SettingsDataID != "" {
		p, err := adapter.NewNacosSettingsProvider(appCtx.Nacos.ConfigClient(), nc.SettingsDataID, appCtx.Nacos.Group(), sc.Fallback)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("data_id", nc.SettingsDataID).Msg("module settings not available from nacos, using config file")
		} else {
			inner = p
		}
	}
	return adapter.NewCachedSettingsProvider(inner, sc.CacheTTL)
}
